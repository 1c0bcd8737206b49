package procmounts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const procMountsPath = "/proc/mounts"

// Parse parses /proc/mounts and returns all mount entries
func Parse() ([]Entry, error) {
	file, err := os.Open(procMountsPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", procMountsPath, err)
	}
	defer file.Close()

	entries, err := ParseReader(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procMountsPath, err)
	}
	return entries, nil
}

// ParseReader parses mount entries from the given reader in /proc/mounts
// format
func ParseReader(r io.Reader) ([]Entry, error) {
	var mounts []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}

		mounts = append(mounts, Entry{
			Device:     unescapeField(fields[0]),
			MountPoint: unescapeField(fields[1]),
			FSType:     fields[2],
			Options:    fields[3],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return mounts, nil
}

// MountpointOf returns the kernel-visible mountpoint of a ZFS dataset, or an
// empty string when the dataset is not mounted. For zfs mounts the device
// column of /proc/mounts is the dataset name itself.
func MountpointOf(dataset string) (string, error) {
	mounts, err := Parse()
	if err != nil {
		return "", err
	}
	return lookupDataset(mounts, dataset), nil
}

func lookupDataset(mounts []Entry, dataset string) string {
	for _, mount := range mounts {
		if mount.FSType == "zfs" && mount.Device == dataset {
			return mount.MountPoint
		}
	}
	return ""
}

// unescapeField unescapes special characters in mount fields
// /proc/mounts escapes spaces as \040, tabs as \011, etc.
func unescapeField(s string) string {
	s = strings.ReplaceAll(s, "\\040", " ")
	s = strings.ReplaceAll(s, "\\011", "\t")
	s = strings.ReplaceAll(s, "\\012", "\n")
	s = strings.ReplaceAll(s, "\\134", "\\")
	return s
}
