// table.go reads the kernel mount table.
//
// /proc/self/mountinfo lines look like:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext4 /dev/root rw,errors=continue
//	(1)(2)(3)   (4)   (5)      (6)      (7)   (8) (9)   (10)         (11)
//
// Fields 7 (optional, variable length) are terminated by a single "-"
// separator; the filesystem type, mount source and super options follow it.
// Paths embed whitespace and backslashes as octal escapes.
package mount

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/marmos91/persistfs/pkg/plan"
)

const mountInfoPath = "/proc/self/mountinfo"

// LoadTable reads the current mount table of this mount namespace.
func LoadTable() ([]plan.MountPoint, error) {
	f, err := os.Open(mountInfoPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", mountInfoPath, err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable parses mountinfo-formatted content into mount points, in the
// order the kernel lists them. Later lines shadow earlier ones when mounted
// on the same path.
func ParseTable(r io.Reader) ([]plan.MountPoint, error) {
	var mounts []plan.MountPoint

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		mp, err := parseMountInfoLine(line)
		if err != nil {
			return nil, fmt.Errorf("parse mountinfo line %q: %w", line, err)
		}
		mounts = append(mounts, mp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mountinfo: %w", err)
	}

	return mounts, nil
}

func parseMountInfoLine(line string) (plan.MountPoint, error) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return plan.MountPoint{}, fmt.Errorf("expected at least 10 fields, got %d", len(fields))
	}

	// The optional fields between the mount options and the "-" separator
	// vary in count.
	sep := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sep = i
			break
		}
	}
	if sep == -1 || sep+2 >= len(fields) {
		return plan.MountPoint{}, fmt.Errorf("missing optional-field separator")
	}

	return plan.MountPoint{
		Root:    unescapeMountPath(fields[3]),
		Path:    unescapeMountPath(fields[4]),
		Options: fields[5],
		FSType:  fields[sep+1],
		Device:  unescapeMountPath(fields[sep+2]),
	}, nil
}

// unescapeMountPath decodes the octal escapes the kernel uses for
// whitespace and backslashes in mount paths.
func unescapeMountPath(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
