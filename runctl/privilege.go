package runctl

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DropPrivileges implements -r/-w/-u: chroot to root (if given), chdir to
// work (if given, relative to the new root once chrooted), then
// irrevocably drop to the named user[:group]. Order matters: chroot must
// happen while still root, and setuid must be the last step (setgid
// after setuid would fail once privileges are gone).
func DropPrivileges(root, work, userSpec string) error {
	if root != "" {
		if err := unix.Chroot(root); err != nil {
			return fmt.Errorf("runctl: chroot %s: %w", root, err)
		}
	}
	if work != "" {
		if err := os.Chdir(work); err != nil {
			return fmt.Errorf("runctl: chdir %s: %w", work, err)
		}
	} else if root != "" {
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("runctl: chdir /: %w", err)
		}
	}

	if userSpec == "" {
		return nil
	}
	uid, gid, err := resolveUser(userSpec)
	if err != nil {
		return err
	}
	if err := unix.Setgroups(nil); err != nil {
		return fmt.Errorf("runctl: clearing supplementary groups: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("runctl: setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("runctl: setuid %d: %w", uid, err)
	}
	return nil
}

// resolveUser parses "user" or "user:group" into numeric ids, looking up
// the named group (or the user's primary group, if none was given) via the
// standard os/user package.
func resolveUser(spec string) (uid, gid int, err error) {
	userName, groupName, _ := strings.Cut(spec, ":")

	u, err := user.Lookup(userName)
	if err != nil {
		return 0, 0, fmt.Errorf("runctl: unknown user %q: %w", userName, err)
	}
	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("runctl: bad uid for %q: %w", userName, err)
	}

	if groupName == "" {
		gid, err = strconv.Atoi(u.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("runctl: bad gid for %q: %w", userName, err)
		}
		return uid, gid, nil
	}

	g, err := user.LookupGroup(groupName)
	if err != nil {
		return 0, 0, fmt.Errorf("runctl: unknown group %q: %w", groupName, err)
	}
	gid, err = strconv.Atoi(g.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("runctl: bad gid for %q: %w", groupName, err)
	}
	return uid, gid, nil
}

// WritePIDFile writes the current process id to path, truncating any
// previous contents. A failure here is a startup error (fatal), per the
// error-handling taxonomy.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
