package template

import (
	"path/filepath"
	"testing"
)

func TestQuackStoreMissingIsEmpty(t *testing.T) {
	quacks, err := ReadQuacks(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(quacks) != 0 {
		t.Errorf("ReadQuacks() = %v, want empty", quacks)
	}
}

func TestQuackStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.conf.lasz.quacks.json")
	want := map[int]string{0: "Q1", 2: "Q3"}

	if err := WriteQuacks(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadQuacks(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) || got[0] != "Q1" || got[2] != "Q3" {
		t.Errorf("ReadQuacks() = %v, want %v", got, want)
	}
}
