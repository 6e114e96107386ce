package template

import (
	"errors"
	"testing"

	"github.com/laszoo/laszoo/internal/errs"
)

func TestRenderVariableBinding(t *testing.T) {
	doc, err := Parse("host={{ hostname }}\n")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Render(doc, map[string]string{"hostname": "h1"}, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "host=h1\n" {
		t.Errorf("Render() = %q, want %q", got, "host=h1\n")
	}
}

func TestRenderDefault(t *testing.T) {
	doc, err := Parse(`port={{ port | default: "8080" }}` + "\n")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Render(doc, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "port=8080\n" {
		t.Errorf("Render() = %q, want %q", got, "port=8080\n")
	}
}

func TestRenderUnboundVariable(t *testing.T) {
	doc, err := Parse("host={{ hostname }}\n")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Render(doc, nil, nil, true)
	if !errors.Is(err, errs.ErrUnboundVariable) {
		t.Errorf("Render() error = %v, want ErrUnboundVariable", err)
	}
}

func TestRenderDeterministic(t *testing.T) {
	doc, err := Parse("a={{ a }} b={{ b | default: \"2\" }}\n")
	if err != nil {
		t.Fatal(err)
	}
	bindings := map[string]string{"a": "1"}
	r1, err := Render(doc, bindings, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Render(doc, bindings, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Errorf("Render() not deterministic: %q != %q", r1, r2)
	}
}

func TestRenderQuackEmptyPlaceholder(t *testing.T) {
	doc, err := Parse("a\n[[x x]]\nz\n")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Render(doc, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a\n\nz\n" {
		t.Errorf("Render() = %q, want %q", got, "a\n\nz\n")
	}
}

func TestRenderQuackOverrideForHost(t *testing.T) {
	doc, err := Parse("a\n[[x x]]\nz\n")
	if err != nil {
		t.Fatal(err)
	}
	got, err := Render(doc, nil, map[int]string{0: "Q1"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a\nQ1\nz\n" {
		t.Errorf("Render() = %q, want %q", got, "a\nQ1\nz\n")
	}
}

func TestRenderQuackVerbatimOnMachineTemplate(t *testing.T) {
	doc, err := Parse("cfg\n[[x local x]]\n")
	if err != nil {
		t.Fatal(err)
	}
	// Machine templates: quack region always emits verbatim, even if a
	// quack override map is (erroneously) supplied.
	got, err := Render(doc, nil, map[int]string{0: "ignored"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "cfg\nlocal\n" {
		t.Errorf("Render() = %q, want %q", got, "cfg\nlocal\n")
	}
}

func TestParseUnterminatedHole(t *testing.T) {
	_, err := Parse("host={{ hostname \n")
	if !errors.Is(err, errs.ErrMalformedTemplate) {
		t.Errorf("Parse() error = %v, want ErrMalformedTemplate", err)
	}
}

func TestParseNestedTokensRejected(t *testing.T) {
	_, err := Parse("[[x {{ hostname }} x]]")
	if !errors.Is(err, errs.ErrMalformedTemplate) {
		t.Errorf("Parse() error = %v, want ErrMalformedTemplate", err)
	}
}

func TestParseCaseSensitiveNames(t *testing.T) {
	doc, err := Parse("{{ Hostname }}")
	if err != nil {
		t.Fatal(err)
	}
	_, err = Render(doc, map[string]string{"hostname": "h1"}, nil, true)
	if !errors.Is(err, errs.ErrUnboundVariable) {
		t.Error("expected variable names to be case-sensitive")
	}
}

func TestExtractIdempotent(t *testing.T) {
	doc, err := Parse("a\n[[x x]]\nz\n")
	if err != nil {
		t.Fatal(err)
	}
	quacks := map[int]string{0: "Q1"}
	rendered, err := Render(doc, nil, quacks, true)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Extract(doc, nil, quacks, true, rendered)
	if err != nil {
		t.Fatal(err)
	}
	if result.Degenerate {
		t.Fatal("Extract() should not degenerate on a no-op edit")
	}
	if result.Quacks[0] != "Q1" {
		t.Errorf("Quacks[0] = %q, want %q", result.Quacks[0], "Q1")
	}

	reRendered, err := Render(result.Document, nil, result.Quacks, true)
	if err != nil {
		t.Fatal(err)
	}
	if reRendered != rendered {
		t.Errorf("re-render after Extract = %q, want %q", reRendered, rendered)
	}
}

func TestExtractPromotesQuackDrift(t *testing.T) {
	doc, err := Parse("a\n[[x x]]\nz\n")
	if err != nil {
		t.Fatal(err)
	}

	edited := "a\nQ1\nz\n"
	result, err := Extract(doc, nil, nil, true, edited)
	if err != nil {
		t.Fatal(err)
	}
	if result.Degenerate {
		t.Fatal("Extract() should not degenerate when drift is inside the quack region")
	}
	if result.Quacks[0] != "Q1" {
		t.Errorf("Quacks[0] = %q, want %q", result.Quacks[0], "Q1")
	}

	rerendered, err := Render(result.Document, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if rerendered != "a\n\nz\n" {
		t.Errorf("template should be unchanged: re-render = %q", rerendered)
	}
}

func TestSourceRoundTrip(t *testing.T) {
	src := `a={{ a }} b={{ b | default: "2" }}` + "\n[[x local x]]\n"
	doc, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Source(); got != src {
		t.Errorf("Source() = %q, want %q", got, src)
	}
}

func TestSourceEmptyQuackBodyCanonicalizes(t *testing.T) {
	doc, err := Parse("a\n[[x    x]]\nz\n")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := doc.Source(), "a\n[[x x]]\nz\n"; got != want {
		t.Errorf("Source() = %q, want %q", got, want)
	}
}

func TestExtractThenSourceIsReparseable(t *testing.T) {
	doc, err := Parse("port={{ port | default: \"80\" }}\n")
	if err != nil {
		t.Fatal(err)
	}
	result, err := Extract(doc, nil, nil, true, "port=9090\n")
	if err != nil {
		t.Fatal(err)
	}
	src := result.Document.Source()

	reparsed, err := Parse(src)
	if err != nil {
		t.Fatalf("Source() produced unparseable template: %v, src=%q", err, src)
	}
	rendered, err := Render(reparsed, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if rendered != "port=9090\n" {
		t.Errorf("Render() after Source()/Parse() round trip = %q, want %q", rendered, "port=9090\n")
	}
}

func TestExtractLiteralEditBecomesTemplateEdit(t *testing.T) {
	doc, err := Parse("port=80\n")
	if err != nil {
		t.Fatal(err)
	}

	result, err := Extract(doc, nil, nil, true, "port=8080\n")
	if err != nil {
		t.Fatal(err)
	}
	if result.Degenerate {
		t.Fatal("Extract() should not degenerate on a plain literal edit")
	}

	rerendered, err := Render(result.Document, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if rerendered != "port=8080\n" {
		t.Errorf("Render() after Extract = %q, want %q", rerendered, "port=8080\n")
	}
}
