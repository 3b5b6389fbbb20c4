package command

// Default fallback command names, tried in order.
var (
	DefaultUnrecognizedNames   = []string{"_admin_didnt_understand_", "_system_fallback_unrecognized_"}
	DefaultDeviceNotFoundNames = []string{"_admin_device_not_found_", "_system_fallback_device_not_found_"}
)

// Fallbacks resolves the reserved fallback commands by name. Each field
// lists candidate names in priority order; the first present wins.
type Fallbacks struct {
	Unrecognized   []string
	DeviceNotFound []string
}

// DefaultFallbacks returns the built-in fallback name lists.
func DefaultFallbacks() Fallbacks {
	return Fallbacks{
		Unrecognized:   DefaultUnrecognizedNames,
		DeviceNotFound: DefaultDeviceNotFoundNames,
	}
}

// Resolved holds the fallback responses found in a command set.
// An empty string means no fallback command exists.
type Resolved struct {
	Unrecognized   string
	DeviceNotFound string
}

// Resolve looks up the fallback responses in cmds.
func (f Fallbacks) Resolve(cmds []Command) Resolved {
	return Resolved{
		Unrecognized:   FindResponse(cmds, f.Unrecognized),
		DeviceNotFound: FindResponse(cmds, f.DeviceNotFound),
	}
}

// FindResponse returns the response of the first command in cmds whose name
// equals one of names, honouring the order of names.
func FindResponse(cmds []Command, names []string) string {
	for _, name := range names {
		for _, c := range cmds {
			if c.Name == name && c.Response != "" {
				return c.Response
			}
		}
	}
	return ""
}
