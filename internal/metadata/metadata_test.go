package metadata

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sample = `///DEP=org/jetbrains/kotlin/kotlin-stdlib/2.2.21/kotlin-stdlib-2.2.21.jar
///CHK=sha256=0000
///RDEP=com/example/runtime/1.0/runtime-1.0.jar
///INC=util/strings.kt
///CARG=-Xjsr305=strict
///INC=util/files.kt
///MAIN=Hello_mainKt
///PLUGIN=org/example/plugin.jar
`

func TestParse(t *testing.T) {
	md, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := &Metadata{
		Dependencies: []string{
			"org/jetbrains/kotlin/kotlin-stdlib/2.2.21/kotlin-stdlib-2.2.21.jar",
			"com/example/runtime/1.0/runtime-1.0.jar",
		},
		Includes:   []string{"util/strings.kt", "util/files.kt"},
		EntryPoint: "Hello_mainKt",
	}
	if diff := cmp.Diff(want, md); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAcceptsLinesWithoutPrefix(t *testing.T) {
	md, err := Parse(strings.NewReader("DEP=a.jar\r\nnot a key\nMAIN=Main\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"a.jar"}, md.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
	if md.EntryPoint != "Main" {
		t.Errorf("EntryPoint = %q, want Main", md.EntryPoint)
	}
}

func TestWriteThenParse(t *testing.T) {
	md := &Metadata{
		Dependencies: []string{"a/a.jar", "b/b.jar"},
		Includes:     []string{"inc.kt"},
		EntryPoint:   "ScriptKt",
	}
	var buf bytes.Buffer
	if err := md.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "///DEP=a/a.jar\n") {
		t.Errorf("unexpected output %q", buf.String())
	}
	got, err := Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(md, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.metadata")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	md, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if len(md.Dependencies) != 2 || len(md.Includes) != 2 {
		t.Errorf("unexpected metadata %+v", md)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.metadata")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestEntryPointFor(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr error
	}{
		{"hello.kt", "HelloKt", nil},
		{"build.main.kts", "Build_main", nil},
		{"tool.kts", "Tool", nil},
		{"x", "X", nil},
		{"my.script.sh", "My_script_sh", nil},
		{"", "", ErrMissingMainClass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EntryPointFor(tt.name)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("EntryPointFor(%q) error = %v, want %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EntryPointFor(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestResolveEntryPointPrefersDeclared(t *testing.T) {
	md := &Metadata{EntryPoint: "Declared"}
	if got, _ := md.ResolveEntryPoint("hello.kt"); got != "Declared" {
		t.Errorf("ResolveEntryPoint = %q, want Declared", got)
	}
	md.EntryPoint = ""
	if got, _ := md.ResolveEntryPoint("hello.kt"); got != "HelloKt" {
		t.Errorf("ResolveEntryPoint = %q, want HelloKt", got)
	}
}
