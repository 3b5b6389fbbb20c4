package session

import (
	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/dispatch"
	"github.com/MrWong99/ander/internal/home"
	"github.com/MrWong99/ander/internal/transcript"
)

// Vocabulary collects the phrases a transcript is corrected against: the
// keywords of every matchable command, the owner's room and appliance
// names, and the fixed room and socket names the dispatcher looks for.
func Vocabulary(cmds []command.Command, rooms []home.Room) transcript.Vocabulary {
	var phrases []string
	for _, c := range cmds {
		if !c.Matchable() {
			continue
		}
		phrases = append(phrases, c.Keywords...)
	}
	for _, r := range rooms {
		phrases = append(phrases, r.Name)
		for _, a := range r.Appliances {
			phrases = append(phrases, a.Name)
		}
	}
	phrases = append(phrases, dispatch.RoomNames...)
	phrases = append(phrases, dispatch.SocketNames...)
	return transcript.NewVocabulary(phrases...)
}
