package devserver

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/codetogether/roomsync/internal/protocol"
)

func TestDiffSnapshots_Ordering(t *testing.T) {
	t0 := time.Unix(100, 0)
	old := map[string]snapshotEntry{
		"gone.js": {size: 1, modTime: t0},
		"same.js": {size: 1, modTime: t0},
		"edit.js": {size: 1, modTime: t0},
	}
	new := map[string]snapshotEntry{
		"same.js":    {size: 1, modTime: t0},
		"edit.js":    {size: 2, modTime: t0},
		"src":        {isDir: true},
		"src/new.js": {size: 0, modTime: t0},
	}

	got := diffSnapshots(old, new, nil)
	want := []DirEvent{
		{Path: "gone.js", Change: ChangeDeleted},
		{Path: "src", IsDir: true, Change: ChangeCreated},
		{Path: "src/new.js", Change: ChangeCreated},
		{Path: "edit.js", Change: ChangeModified},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %+v\nwant %+v", got, want)
	}
}

func TestDiffSnapshots_ErrPathSuppressesDeletes(t *testing.T) {
	old := map[string]snapshotEntry{
		"src":      {isDir: true},
		"src/a.js": {},
	}
	got := diffSnapshots(old, map[string]snapshotEntry{}, map[string]bool{"src": true})
	if len(got) != 0 {
		t.Errorf("events = %+v, want none", got)
	}
}

func TestPoller_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got []DirEvent
	p := NewPoller(PollerConfig{
		Root:     dir,
		Interval: time.Hour,
		OnEvents: func(events []DirEvent) { got = append(got, events...) },
	})
	p.Start()
	defer p.Stop()

	if err := os.WriteFile(filepath.Join(dir, "b.js"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	p.Poll()

	want := []DirEvent{{Path: "b.js", Change: ChangeCreated}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestApplyDirEvents(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"a.js": fileEntry("x")})

	// Written from a shell: a new nested file and an edit.
	if err := os.MkdirAll(filepath.Join(r.Dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(r.Dir, "src", "b.js"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(r.Dir, "a.js"), []byte("x2"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes := r.applyDirEvents([]DirEvent{
		{Path: "src", IsDir: true, Change: ChangeCreated},
		{Path: "src/b.js", Change: ChangeCreated},
		{Path: "a.js", Change: ChangeModified},
	})
	if !changes.changed {
		t.Error("map change not reported")
	}
	if len(changes.synced) != 2 {
		t.Fatalf("synced = %+v, want 2 files", changes.synced)
	}
	files := r.Files()
	if files["src"].Type != protocol.KindFolder || files["src/b.js"].Content != "b" || files["a.js"].Content != "x2" {
		t.Errorf("files = %+v", files)
	}
	if err := checkTree(files); err != nil {
		t.Errorf("tree broken: %v", err)
	}
}

func TestApplyDirEvents_IgnoresOwnWrites(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{"a.js": fileEntry("")})
	if err := r.SetContent("a.js", "typed in the editor"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateFile("", "b.js"); err != nil {
		t.Fatal(err)
	}

	changes := r.applyDirEvents([]DirEvent{
		{Path: "b.js", Change: ChangeCreated},
		{Path: "a.js", Change: ChangeModified},
	})
	if changes.changed || len(changes.synced) != 0 {
		t.Errorf("own writes reported as changes: %+v", changes)
	}
}

func TestApplyDirEvents_Delete(t *testing.T) {
	r := newTestRoom(t, protocol.FileMap{
		"a.js":     fileEntry(""),
		"src":      folderEntry(),
		"src/b.js": fileEntry(""),
	})
	r.SwitchFile("src/b.js")

	changes := r.applyDirEvents([]DirEvent{
		{Path: "src", IsDir: true, Change: ChangeDeleted},
		{Path: "src/b.js", Change: ChangeDeleted},
	})
	if !changes.changed {
		t.Error("deletion not reported")
	}
	if len(r.Files()) != 1 {
		t.Errorf("files = %v", r.Files())
	}
	if r.ActiveFile() != "a.js" {
		t.Errorf("ActiveFile = %q, want a.js", r.ActiveFile())
	}
}
