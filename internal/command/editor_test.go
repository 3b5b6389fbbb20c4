package command_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/ander/internal/command"
)

func TestParseKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: []string{}},
		{in: "lights on", want: []string{"lights on"}},
		{in: " lights on , all lights on,,  ", want: []string{"lights on", "all lights on"}},
		{in: ",,,", want: []string{}},
		{in: "a,b ,  c", want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := command.ParseKeywords(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParseKeywords(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEditor_SaveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := command.NewMemStore()
	ed := command.NewEditor(store)

	created, err := ed.Save(ctx, "u1", command.Form{
		Name:     "movie_time",
		Keywords: "movie time, start the movie",
		Response: "Enjoy the film.",
	})
	if err != nil {
		t.Fatalf("Save create: %v", err)
	}
	if created.Category != command.CategoryGeneral {
		t.Errorf("Category = %q, want %q", created.Category, command.CategoryGeneral)
	}
	if created.ActionTag != "" {
		t.Errorf("ActionTag = %q, want empty", created.ActionTag)
	}
	if !created.Enabled {
		t.Error("new command not enabled")
	}

	input := "  dim the lights ,, lights low,  ,cinema mode  "
	if _, err := ed.Save(ctx, "u1", command.Form{
		ID:       created.ID,
		Name:     "movie_time",
		Keywords: input,
		Response: "Enjoy the film.",
	}); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	list, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List len = %d, want 1", len(list))
	}
	want := command.ParseKeywords(input)
	if !slices.Equal(list[0].Keywords, want) {
		t.Errorf("reloaded keywords = %q, want %q", list[0].Keywords, want)
	}
	if !slices.Equal(want, []string{"dim the lights", "lights low", "cinema mode"}) {
		t.Errorf("ParseKeywords = %q", want)
	}
}

func TestEditor_UpdateKeepsEnabledUnlessSet(t *testing.T) {
	t.Parallel()
	off, on := false, true

	tests := []struct {
		name    string
		enabled *bool
		want    bool
	}{
		{"field absent", nil, false},
		{"re-enabled", &on, true},
		{"disabled again", &off, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			ed := command.NewEditor(command.NewMemStore())

			created, err := ed.Save(ctx, "u1", command.Form{Name: "porch", Keywords: "porch light", Response: "ok", Enabled: &off})
			if err != nil {
				t.Fatalf("Save create: %v", err)
			}
			updated, err := ed.Save(ctx, "u1", command.Form{
				ID: created.ID, Name: "porch", Keywords: "porch light, porch lamp", Response: "ok", Enabled: tt.enabled,
			})
			if err != nil {
				t.Fatalf("Save update: %v", err)
			}
			if updated.Enabled != tt.want {
				t.Errorf("Enabled = %v, want %v", updated.Enabled, tt.want)
			}
		})
	}
}

func TestEditor_SaveRequiredFields(t *testing.T) {
	t.Parallel()
	ed := command.NewEditor(command.NewMemStore())

	_, err := ed.Save(context.Background(), "u1", command.Form{Keywords: " , "})
	if !errors.Is(err, command.ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestEditor_SaveForeignOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := command.NewMemStore()
	ed := command.NewEditor(store)

	c, err := ed.Save(ctx, "u1", command.Form{Name: "n", Keywords: "k", Response: "r"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err = ed.Save(ctx, "u2", command.Form{ID: c.ID, Name: "n", Keywords: "k", Response: "hijacked"})
	if !errors.Is(err, command.ErrNotFound) {
		t.Fatalf("want ErrNotFound for foreign owner, got %v", err)
	}
}

func TestEditor_DropsIncompleteBinding(t *testing.T) {
	t.Parallel()
	ed := command.NewEditor(command.NewMemStore())

	c, err := ed.Save(context.Background(), "u1", command.Form{
		Name: "lamp", Keywords: "lamp on", Response: "ok", ActionTag: command.ActionDeviceControl,
		Binding: &command.Binding{RoomID: "r1"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if c.Binding != nil {
		t.Errorf("incomplete binding kept: %+v", c.Binding)
	}
}
