package storage

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"
)

// QEMUConfigPath is where libvirt keeps the QEMU driver settings.
const QEMUConfigPath = "/etc/libvirt/qemu.conf"

const fallbackQEMUID = "107"

var (
	qemuUID  string
	qemuGID  string
	qemuOnce sync.Once
	qemuErr  error
)

// GetQEMUUserGroup returns the UID and GID QEMU runs as. The user configured
// in qemu.conf wins, then the qemu and libvirt-qemu accounts, then 107.
// The result is cached.
func GetQEMUUserGroup() (uid, gid string, err error) {
	qemuOnce.Do(func() {
		qemuUID, qemuGID, qemuErr = resolveQEMUUserGroup(QEMUConfigPath)
	})
	return qemuUID, qemuGID, qemuErr
}

func resolveQEMUUserGroup(configPath string) (uid, gid string, err error) {
	username, groupname := getQEMUConfiguredUser(configPath)

	if username != "" {
		if u, err := user.Lookup(username); err == nil {
			gid = u.Gid
			if groupname != "" {
				if g, err := user.LookupGroup(groupname); err == nil {
					gid = g.Gid
				}
			}
			return u.Uid, gid, nil
		}
	}

	for _, name := range []string{"qemu", "libvirt-qemu"} {
		if u, err := user.Lookup(name); err == nil {
			return u.Uid, u.Gid, nil
		}
	}

	return fallbackQEMUID, fallbackQEMUID, fmt.Errorf("could not determine QEMU user/group, using fallback UID/GID %s", fallbackQEMUID)
}

// getQEMUConfiguredUser extracts the user and group settings from a
// qemu.conf. Missing files or settings yield empty strings.
func getQEMUConfiguredUser(configPath string) (username, groupname string) {
	file, err := os.Open(configPath)
	if err != nil {
		return "", ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")
		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}
	return username, groupname
}
