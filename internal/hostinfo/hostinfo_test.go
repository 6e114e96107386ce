package hostinfo

import "testing"

func TestBindingsHostnameOverride(t *testing.T) {
	got, err := Bindings(Config{Hostname: "h1"})
	if err != nil {
		t.Fatal(err)
	}
	if got["hostname"] != "h1" {
		t.Errorf("hostname = %q, want %q", got["hostname"], "h1")
	}
}

func TestBindingsIncludesBuiltins(t *testing.T) {
	got, err := Bindings(Config{Hostname: "h1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"hostname", "cpu_count", "os", "arch"} {
		if _, ok := got[key]; !ok {
			t.Errorf("Bindings() missing built-in key %q", key)
		}
	}
}

func TestBindingsExtraOverridesBuiltin(t *testing.T) {
	got, err := Bindings(Config{Hostname: "h1", Extra: map[string]string{"os": "custom"}})
	if err != nil {
		t.Fatal(err)
	}
	if got["os"] != "custom" {
		t.Errorf("os = %q, want extra binding to win: %q", got["os"], "custom")
	}
}

func TestBindingsFallsBackToOSHostname(t *testing.T) {
	got, err := Bindings(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got["hostname"] == "" {
		t.Error("expected a non-empty hostname from os.Hostname()")
	}
}
