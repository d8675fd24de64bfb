package staging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/domain"
)

func TestResolveFillsMetadata(t *testing.T) {
	area, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := filepath.Join(area.Root(), "upload-1.bin")
	if err := os.WriteFile(path, []byte("apk-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	got, err := area.Resolve(domain.Artifact{Path: "upload-1.bin", Filename: "build.apk"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got.Path != path || got.Size != 9 || got.Filename != "build.apk" {
		t.Fatalf("unexpected artifact: %+v", got)
	}

	got, err = area.Resolve(domain.Artifact{Path: path})
	if err != nil {
		t.Fatalf("Resolve absolute returned error: %v", err)
	}
	if got.Filename != "upload-1.bin" {
		t.Fatalf("expected filename derived from path, got %q", got.Filename)
	}
}

func TestResolveRejectsEscapesAndDirectories(t *testing.T) {
	area, _ := New(t.TempDir())
	if err := os.Mkdir(filepath.Join(area.Root(), "dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cases := map[string]error{
		"../etc/passwd": ErrOutsideRoot,
		"/etc/passwd":   ErrOutsideRoot,
		"dir":           ErrNotRegular,
		"missing.apk":   ErrNotRegular,
		"":              ErrNotRegular,
	}
	for path, want := range cases {
		if _, err := area.Resolve(domain.Artifact{Path: path}); !errors.Is(err, want) {
			t.Fatalf("Resolve(%q): expected %v, got %v", path, want, err)
		}
	}
}

func TestRemove(t *testing.T) {
	area, _ := New(t.TempDir())
	path := filepath.Join(area.Root(), "build.ipa")
	if err := os.WriteFile(path, []byte("ipa"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := area.Remove(path); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected artifact removed, stat err=%v", err)
	}
	if err := area.Remove(path); err == nil {
		t.Fatal("expected second Remove to report the missing file")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	area, _ := New(t.TempDir())
	src := filepath.Join(area.Root(), "upload-7.bin")
	if err := os.WriteFile(src, []byte("ipa"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	resolved, err := area.Resolve(domain.Artifact{Path: "upload-7.bin", Filename: "app.ipa"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	owned, err := area.Claim(resolved, "job-1")
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	want := filepath.Join(area.Root(), claimedDir, "job-1", "app.ipa")
	if owned.Path != want || owned.Filename != "app.ipa" || owned.Size != 3 {
		t.Fatalf("unexpected claimed artifact: %+v", owned)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected upload moved out of the shared area, stat err=%v", err)
	}

	if _, err := area.Claim(resolved, "job-2"); !errors.Is(err, ErrClaimed) {
		t.Fatalf("expected ErrClaimed for a second owner, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(area.Root(), claimedDir, "job-2")); !os.IsNotExist(err) {
		t.Fatalf("expected no directory left for the rejected owner, stat err=%v", err)
	}
	if _, err := area.Resolve(domain.Artifact{Path: owned.Path}); !errors.Is(err, ErrClaimed) {
		t.Fatalf("expected a claimed path to be refused, got %v", err)
	}

	if err := area.Remove(owned.Path); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(want)); !os.IsNotExist(err) {
		t.Fatalf("expected claim directory removed, stat err=%v", err)
	}
}

func TestClaimRejectsBadOwner(t *testing.T) {
	area, _ := New(t.TempDir())
	if err := os.WriteFile(filepath.Join(area.Root(), "a.apk"), []byte("apk"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	for _, owner := range []string{"", "../x", ".hidden", "a/b"} {
		if _, err := area.Claim(domain.Artifact{Path: "a.apk"}, owner); err == nil {
			t.Fatalf("Claim with owner %q: expected error", owner)
		}
	}
}
