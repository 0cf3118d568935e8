//go:build linux

package database

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Network filesystem magic numbers reported by statfs(2).
const (
	nfsSuperMagicV2 = 0x6969
	nfsOr9pMagic    = 0x01021994 // NFSv3/v4 and 9p (WSL2) share this value
	cifsMagicNumber = 0xFF534D42
	smbSuperMagic   = 0xFE534D42
	afsSuperMagic   = 0x5346414F
	cephSuperMagic  = 0x00C36400
)

func isNetworkFilesystemNative(filePath string) (bool, string, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(filePath, &stat); err != nil {
		return false, "", fmt.Errorf("statfs failed for %s: %w", filePath, err)
	}

	switch uint32(stat.Type) {
	case nfsSuperMagicV2:
		return true, "nfs", nil
	case nfsOr9pMagic:
		return true, "nfs or 9p", nil
	case cifsMagicNumber:
		return true, "cifs", nil
	case smbSuperMagic:
		return true, "smbfs", nil
	case afsSuperMagic:
		return true, "afs", nil
	case cephSuperMagic:
		return true, "ceph", nil
	}
	return false, "", nil
}
