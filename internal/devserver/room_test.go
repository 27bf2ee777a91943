package devserver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/codetogether/roomsync/internal/protocol"
)

func newTestRoom(t *testing.T, files protocol.FileMap) *Room {
	t.Helper()
	r := newRoom("AB12CD", t.TempDir(), "alice", "")
	if err := r.seed(files); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return r
}

func fileEntry(content string) protocol.FileEntry {
	return protocol.FileEntry{Type: protocol.KindFile, Content: content}
}

func folderEntry() protocol.FileEntry {
	return protocol.FileEntry{Type: protocol.KindFolder}
}

func readDisk(t *testing.T, r *Room, p string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir, filepath.FromSlash(p)))
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

func TestRoom_SeedMaterialises(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{
		"src":      folderEntry(),
		"src/a.js": fileEntry("x"),
		"b.js":     fileEntry("y"),
	})

	if got := readDisk(t, r, "src/a.js"); got != "x" {
		t.Errorf("src/a.js on disk = %q", got)
	}
	if r.ActiveFile() != "b.js" {
		t.Errorf("ActiveFile = %q, want the first file b.js", r.ActiveFile())
	}
}

func TestRoom_SeedRejectsOrphans(t *testing.T) {
	r := newRoom("AB12CD", t.TempDir(), "alice", "")
	err := r.seed(protocol.FileMap{"src/a.js": fileEntry("")})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("seed error = %v, want ErrParentNotFound", err)
	}
}

func TestRoom_CreateFile(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"src": folderEntry(), "a.js": fileEntry("")})

	p, err := r.CreateFile("src", "b.js")
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if p != "src/b.js" {
		t.Errorf("path = %q", p)
	}
	if e := r.Files()["src/b.js"]; e.Type != protocol.KindFile {
		t.Errorf("entry = %+v", e)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, "src", "b.js")); err != nil {
		t.Errorf("file not on disk: %v", err)
	}

	tests := []struct {
		name, parent, file string
		want               error
	}{
		{"duplicate", "src", "b.js", ErrItemExists},
		{"missing parent", "lib", "c.js", ErrParentNotFound},
		{"parent is a file", "a.js", "c.js", ErrNotAFolder},
		{"slash in name", "", "x/y.js", ErrInvalidName},
		{"dot dot", "", "..", ErrInvalidName},
		{"empty", "", "", ErrInvalidName},
	}
	for _, tt := range tests {
		if _, err := r.CreateFile(tt.parent, tt.file); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
	if err := checkTree(r.Files()); err != nil {
		t.Errorf("tree broken: %v", err)
	}
}

func TestRoom_CreateFolder(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"a.js": fileEntry("")})

	if _, err := r.CreateFolder("", "src"); err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if _, err := r.CreateFolder("src", "lib"); err != nil {
		t.Fatalf("nested CreateFolder failed: %v", err)
	}
	if info, err := os.Stat(filepath.Join(r.Dir, "src", "lib")); err != nil || !info.IsDir() {
		t.Errorf("folder not on disk: %v", err)
	}
	if e := r.Files()["src/lib"]; e.Type != protocol.KindFolder || e.IsExpanded {
		t.Errorf("entry = %+v, want collapsed folder", e)
	}
}

func TestRoom_DeleteItem(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{
		"src":          folderEntry(),
		"src/a.js":     fileEntry("a"),
		"src/lib":      folderEntry(),
		"src/lib/b.js": fileEntry("b"),
		"c.js":         fileEntry("c"),
	})

	kind, err := r.DeleteItem("src")
	if err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if kind != protocol.KindFolder {
		t.Errorf("kind = %q", kind)
	}
	files := r.Files()
	if len(files) != 1 {
		t.Errorf("files = %v, want only c.js", files)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, "src")); !os.IsNotExist(err) {
		t.Errorf("src still on disk: %v", err)
	}

	if _, err := r.DeleteItem("c.js"); !errors.Is(err, ErrLastFile) {
		t.Errorf("deleting the last file: error = %v, want ErrLastFile", err)
	}
	if _, err := r.DeleteItem("nope.js"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("missing item: error = %v", err)
	}
}

func TestRoom_DeleteFolderHoldingEveryFile(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{
		"src":      folderEntry(),
		"src/a.js": fileEntry(""),
		"empty":    folderEntry(),
	})
	if _, err := r.DeleteItem("src"); !errors.Is(err, ErrLastFile) {
		t.Errorf("error = %v, want ErrLastFile", err)
	}
	if _, err := r.DeleteItem("empty"); err != nil {
		t.Errorf("deleting an empty folder: %v", err)
	}
}

func TestRoom_DeleteActiveFileFallsBack(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"a.js": fileEntry(""), "b.js": fileEntry("")})
	r.SwitchFile("b.js")

	if _, err := r.DeleteItem("b.js"); err != nil {
		t.Fatal(err)
	}
	if r.ActiveFile() != "a.js" {
		t.Errorf("ActiveFile = %q, want a.js", r.ActiveFile())
	}
}

func TestRoom_MoveFolderRekeysDescendants(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{
		"src":          folderEntry(),
		"src/lib":      folderEntry(),
		"src/lib/a.js": fileEntry("a"),
		"dst":          folderEntry(),
	})
	r.SwitchFile("src/lib/a.js")

	kind, err := r.MoveItem("src/lib", "dst/lib")
	if err != nil {
		t.Fatalf("MoveItem failed: %v", err)
	}
	if kind != protocol.KindFolder {
		t.Errorf("kind = %q", kind)
	}
	files := r.Files()
	if _, ok := files["dst/lib/a.js"]; !ok {
		t.Errorf("files = %v, want dst/lib/a.js", files)
	}
	if _, ok := files["src/lib"]; ok {
		t.Error("old path still present")
	}
	if got := readDisk(t, r, "dst/lib/a.js"); got != "a" {
		t.Errorf("moved content = %q", got)
	}
	if r.ActiveFile() != "dst/lib/a.js" {
		t.Errorf("ActiveFile = %q", r.ActiveFile())
	}
	if err := checkTree(files); err != nil {
		t.Errorf("tree broken: %v", err)
	}
}

func TestRoom_MoveRejections(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{
		"src":      folderEntry(),
		"src/a.js": fileEntry(""),
		"b.js":     fileEntry(""),
	})

	tests := []struct {
		name, from, to string
		want           error
	}{
		{"into itself", "src", "src/src", ErrMoveIntoSelf},
		{"onto existing", "b.js", "src/a.js", ErrItemExists},
		{"missing source", "x.js", "y.js", ErrItemNotFound},
		{"missing parent", "b.js", "lib/b.js", ErrParentNotFound},
		{"escapes room", "b.js", "../b.js", ErrInvalidName},
	}
	for _, tt := range tests {
		if _, err := r.MoveItem(tt.from, tt.to); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestRoom_ToggleFolder(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"src": folderEntry(), "a.js": fileEntry("")})

	expanded, err := r.ToggleFolder("src")
	if err != nil || !expanded {
		t.Fatalf("first toggle = %v, %v", expanded, err)
	}
	expanded, _ = r.ToggleFolder("src")
	if expanded {
		t.Error("second toggle should collapse")
	}
	if _, err := r.ToggleFolder("a.js"); !errors.Is(err, ErrNotAFolder) {
		t.Errorf("toggling a file: %v", err)
	}
}

func TestRoom_SetContent(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"src": folderEntry(), "a.js": fileEntry("")})

	if err := r.SetContent("a.js", "let x = 1"); err != nil {
		t.Fatalf("SetContent failed: %v", err)
	}
	if got := readDisk(t, r, "a.js"); got != "let x = 1" {
		t.Errorf("disk = %q", got)
	}
	if r.Files()["a.js"].Content != "let x = 1" {
		t.Error("map not updated")
	}
	if err := r.SetContent("src", "x"); !errors.Is(err, ErrNotAFile) {
		t.Errorf("folder: %v", err)
	}
	if err := r.SetContent("nope.js", "x"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("missing: %v", err)
	}
}

func TestValidPath(t *testing.T) {
	tests := []struct {
		p    string
		want bool
	}{
		{"a.js", true},
		{"src/a.js", true},
		{"", false},
		{".", false},
		{"/etc/passwd", false},
		{"../x", false},
		{"src/../../x", false},
		{"src//a.js", false},
		{".git/config", false},
	}
	for _, tt := range tests {
		if got := validPath(tt.p); got != tt.want {
			t.Errorf("validPath(%q) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
