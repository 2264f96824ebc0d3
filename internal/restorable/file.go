package restorable

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lyndonlyu/distroconv/internal/logging"
)

// KindFile is the journal kind for File resources.
const KindFile = "file"

// modeBits is what Backup records and Restore puts back.
const modeBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// Record is the persistable description of a backed-up file, enough to
// rebuild it in another process.
type Record struct {
	Kind       string      `json:"kind"`
	Identity   string      `json:"identity"`
	BackupPath string      `json:"backup_path"`
	Existed    bool        `json:"existed"`
	LinkTarget string      `json:"link_target,omitempty"`
	Mode       fs.FileMode `json:"mode"`
	UID        int         `json:"uid"`
	GID        int         `json:"gid"`
}

// File is a Resource around a single path. The pristine copy lives under the
// run's backup directory at the same relative path, so it never collides
// with the original.
type File struct {
	path       string
	backupPath string
	tracker    Tracker
	log        *slog.Logger

	state      State
	existed    bool
	linkTarget string
	mode       fs.FileMode
	uid, gid   int
}

type Option func(*File)

func WithLogger(l *slog.Logger) Option {
	return func(f *File) { f.log = l }
}

// NewFile returns an UNTOUCHED resource for path. tracker may be nil, in
// which case nothing is told when the file is backed up.
func NewFile(path, backupDir string, tracker Tracker, opts ...Option) *File {
	f := &File{
		path:       filepath.Clean(path),
		backupPath: BackupPath(backupDir, path),
		tracker:    tracker,
		log:        logging.New("restorable"),
		uid:        -1,
		gid:        -1,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FromRecord rebuilds a BACKED_UP file from a journal record.
func FromRecord(rec Record, opts ...Option) (*File, error) {
	if rec.Kind != KindFile {
		return nil, fmt.Errorf("restorable: unsupported record kind %q", rec.Kind)
	}
	if rec.Existed && rec.LinkTarget == "" {
		if _, err := os.Stat(rec.BackupPath); err != nil {
			return nil, fmt.Errorf("restorable: backup copy for %s: %w", rec.Identity, err)
		}
	}
	f := &File{
		path:       filepath.Clean(rec.Identity),
		backupPath: rec.BackupPath,
		log:        logging.New("restorable"),
		state:      BackedUp,
		existed:    rec.Existed,
		linkTarget: rec.LinkTarget,
		mode:       rec.Mode,
		uid:        rec.UID,
		gid:        rec.GID,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// BackupPath mirrors path under backupDir.
func BackupPath(backupDir, path string) string {
	rel := strings.TrimPrefix(filepath.Clean(path), string(filepath.Separator))
	return filepath.Join(backupDir, rel)
}

func (f *File) Identity() string       { return f.path }
func (f *File) State() State           { return f.state }
func (f *File) BackupLocation() string { return f.backupPath }

// Existed reports whether the artifact existed when it was backed up.
func (f *File) Existed() bool { return f.existed }

func (f *File) Record() Record {
	return Record{
		Kind:       KindFile,
		Identity:   f.path,
		BackupPath: f.backupPath,
		Existed:    f.existed,
		LinkTarget: f.linkTarget,
		Mode:       f.mode,
		UID:        f.uid,
		GID:        f.gid,
	}
}

// Backup copies the artifact aside and hands the file to the tracker. An
// absent artifact is recorded as absent, so restoring it means deleting
// whatever the run created.
func (f *File) Backup() error {
	switch f.state {
	case BackedUp, Restored, RestoreFailed:
		f.log.Debug("backup already taken", "resource", f.path, "state", f.state.String())
		return nil
	}

	f.existed, f.linkTarget = false, ""
	info, err := os.Lstat(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return f.failBackup(err)
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(f.path)
		if err != nil {
			return f.failBackup(err)
		}
		f.existed, f.linkTarget = true, target
	case !info.Mode().IsRegular():
		return f.failBackup(fmt.Errorf("%w: %s", ErrNotRegularFile, info.Mode().Type()))
	default:
		f.existed = true
		f.mode = info.Mode() & modeBits
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			f.uid, f.gid = int(st.Uid), int(st.Gid)
		}
		// The pristine copy never carries setuid/setgid.
		if err := copyFile(f.path, f.backupPath, f.mode.Perm(), 0o700); err != nil {
			return f.failBackup(err)
		}
	}

	f.state = BackedUp
	if f.tracker != nil {
		if err := f.tracker.Track(f); err != nil {
			f.removeCopy()
			return f.failBackup(err)
		}
	}

	if f.existed {
		f.log.Info("backed up", "resource", f.path, "backup", f.backupPath, "outcome", "ok")
	} else {
		f.log.Info("recorded absent original, rollback will delete it", "resource", f.path, "outcome", "ok")
	}
	return nil
}

func (f *File) failBackup(err error) error {
	f.state = BackupFailed
	f.log.Warn("backup failed", "resource", f.path, "outcome", "backup_failed", "error", err)
	return &BackupError{Identity: f.path, Err: err}
}

// Restore puts the artifact back the way Backup found it.
func (f *File) Restore() error {
	switch f.state {
	case Untouched, BackupFailed:
		f.log.Info("nothing to restore", "resource", f.path, "state", f.state.String())
		return nil
	case Restored:
		return nil
	}

	var err error
	switch {
	case !f.existed:
		err = os.Remove(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	case f.linkTarget != "":
		err = restoreLink(f.path, f.linkTarget)
	default:
		err = copyFile(f.backupPath, f.path, f.mode.Perm(), 0o755)
		if err == nil && f.uid >= 0 {
			if cerr := os.Lchown(f.path, f.uid, f.gid); cerr != nil && !errors.Is(cerr, fs.ErrPermission) {
				err = cerr
			}
		}
		// chown drops setuid/setgid, so the full mode goes on last.
		if err == nil {
			err = os.Chmod(f.path, f.mode)
		}
	}
	if err != nil {
		f.state = RestoreFailed
		f.log.Error("restore failed", "resource", f.path, "outcome", "restore_failed", "error", err)
		return &RestoreError{Identity: f.path, Err: err}
	}

	f.state = Restored
	f.removeCopy()
	if f.existed {
		f.log.Info("restored", "resource", f.path, "outcome", "ok")
	} else {
		f.log.Info("removed file absent before the run", "resource", f.path, "outcome", "ok")
	}
	return nil
}

// Discard drops the backup copy once the run has committed.
func (f *File) Discard() error {
	if f.state != BackedUp || !f.existed || f.linkTarget != "" {
		return nil
	}
	if err := os.Remove(f.backupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("restorable: discard %s: %w", f.backupPath, err)
	}
	return nil
}

func (f *File) removeCopy() {
	if f.existed && f.linkTarget == "" {
		_ = os.Remove(f.backupPath)
	}
}

// copyFile writes src to dst through a temp file and rename, so dst is never
// observed half-written.
func copyFile(src, dst string, mode fs.FileMode, dirMode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func restoreLink(path, target string) error {
	if cur, err := os.Readlink(path); err == nil && cur == target {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Symlink(target, path)
}
