package files

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("int main(){}"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("stale content that is longer"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst, 0644); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "int main(){}" {
		t.Fatalf("unexpected content %q", data)
	}
	if err := CopyFile(filepath.Join(dir, "missing"), dst, 0644); err == nil {
		t.Fatal("expected error for missing source")
	}
}
