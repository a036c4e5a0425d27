package template

import (
	"errors"
	"testing"
	"time"
)

func gameContext() Context {
	return Context{
		"white":      map[string]any{"name": "A"},
		"black":      map[string]any{"name": "B"},
		"leagueName": "45+45",
		"result":     map[string]any{"gamelink": "https://example.org/g"},
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()
	got, err := Expand("{white.name} vs {black.name} in {leagueName} has started: {result.gamelink}", gameContext())
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	want := "A vs B in 45+45 has started: https://example.org/g"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandMissingKey(t *testing.T) {
	t.Parallel()
	_, err := Expand("{white.name} beat {loser.name}", gameContext())
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Expand error = %v, want ErrMissingKey", err)
	}
}

func TestExpandNoPlaceholders(t *testing.T) {
	t.Parallel()
	got, err := Expand("no placeholders here", Context{})
	if err != nil || got != "no placeholders here" {
		t.Fatalf("Expand = %q, %v", got, err)
	}
}

func TestRequire(t *testing.T) {
	t.Parallel()
	ctx := gameContext()
	if err := ctx.Require("white.name", "black.name", "leagueName"); err != nil {
		t.Fatalf("Require error: %v", err)
	}
	err := ctx.Require("white.name", "result.result")
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Require error = %v, want ErrMissingKey", err)
	}
}

func TestLocalizeDate(t *testing.T) {
	t.Parallel()
	date := time.Date(2016, 4, 18, 10, 30, 0, 0, time.UTC)
	ctx := gameContext()
	ctx["result"].(map[string]any)["date"] = date

	// UTC-5 subscriber.
	local, err := LocalizeDate(ctx, "result.date", -300)
	if err != nil {
		t.Fatalf("LocalizeDate error: %v", err)
	}
	if got := local["realDate"]; got != "2016-04-18 @ 10:30 UTC" {
		t.Fatalf("realDate = %q", got)
	}
	if got := local["yourDate"]; got != "Mon @ 05:30" {
		t.Fatalf("yourDate = %q", got)
	}

	// Canonical context untouched.
	if _, ok := ctx["realDate"]; ok {
		t.Fatal("LocalizeDate mutated the canonical context")
	}
	if _, ok := ctx["yourDate"]; ok {
		t.Fatal("LocalizeDate mutated the canonical context")
	}
}

func TestLocalizeDateAbsentKey(t *testing.T) {
	t.Parallel()
	ctx := gameContext()
	got, err := LocalizeDate(ctx, "result.date", 60)
	if err != nil {
		t.Fatalf("LocalizeDate error: %v", err)
	}
	if _, ok := got["yourDate"]; ok {
		t.Fatal("yourDate set without a date field")
	}
}

func TestLocalizeDateWrongType(t *testing.T) {
	t.Parallel()
	ctx := Context{"result": map[string]any{"date": "tomorrow"}}
	if _, err := LocalizeDate(ctx, "result.date", 0); err == nil {
		t.Fatal("LocalizeDate accepted a non-time date")
	}
}

func TestCloneIsolation(t *testing.T) {
	t.Parallel()
	ctx := gameContext()
	cp := ctx.Clone()
	cp["extra"] = "x"
	cp["white"].(map[string]any)["name"] = "Z"

	if _, ok := ctx["extra"]; ok {
		t.Fatal("Clone shares top-level map")
	}
	if got := ctx["white"].(map[string]any)["name"]; got != "A" {
		t.Fatalf("Clone shares nested map: white.name = %v", got)
	}
}
