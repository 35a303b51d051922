// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostattr classifies the "version made by" host byte and the
// Unix mode bits stored in a central-directory record's external file
// attributes. It only decodes attributes a foreign archive already
// carries; it never describes the local host, since this module never
// writes an archive.
package hostattr

// HostSystem is the upper byte of a central-directory record's
// version-made-by field.
type HostSystem uint8

const (
	HostSystemFAT       HostSystem = 0  // MS-DOS, OS/2 (FAT/VFAT/FAT32)
	HostSystemAmiga     HostSystem = 1  // Amiga
	HostSystemOpenVMS   HostSystem = 2  // OpenVMS
	HostSystemUNIX      HostSystem = 3  // UNIX
	HostSystemVMCMS     HostSystem = 4  // VM/CMS
	HostSystemAtariST   HostSystem = 5  // Atari ST
	HostSystemOS2HPFS   HostSystem = 6  // OS/2 H.P.F.S.
	HostSystemMacintosh HostSystem = 7  // Macintosh
	HostSystemZSystem   HostSystem = 8  // Z-System
	HostSystemCPM       HostSystem = 9  // CP/M
	HostSystemNTFS      HostSystem = 10 // Windows NTFS
	HostSystemMVS       HostSystem = 11 // MVS (OS/390 - Z/OS)
	HostSystemVSE       HostSystem = 12 // VSE
	HostSystemAcornRisc HostSystem = 13 // Acorn Risc
	HostSystemVFAT      HostSystem = 14 // VFAT
	HostSystemAltMVS    HostSystem = 15 // alternate MVS
	HostSystemBeOS      HostSystem = 16 // BeOS
	HostSystemTandem    HostSystem = 17 // Tandem
	HostSystemOS400     HostSystem = 18 // OS/400
	HostSystemDarwin    HostSystem = 19 // OS X (Darwin)
)

func (h HostSystem) String() string {
	names := map[HostSystem]string{
		HostSystemFAT:       "MS-DOS/OS2 (FAT)",
		HostSystemAmiga:     "Amiga",
		HostSystemOpenVMS:   "OpenVMS",
		HostSystemUNIX:      "UNIX",
		HostSystemVMCMS:     "VM/CMS",
		HostSystemAtariST:   "Atari ST",
		HostSystemOS2HPFS:   "OS/2 HPFS",
		HostSystemMacintosh: "Macintosh",
		HostSystemZSystem:   "Z-System",
		HostSystemCPM:       "CP/M",
		HostSystemNTFS:      "Windows NTFS",
		HostSystemMVS:       "MVS (OS/390 - Z/OS)",
		HostSystemVSE:       "VSE",
		HostSystemAcornRisc: "Acorn Risc",
		HostSystemVFAT:      "VFAT",
		HostSystemAltMVS:    "Alternate MVS",
		HostSystemBeOS:      "BeOS",
		HostSystemTandem:    "Tandem",
		HostSystemOS400:     "OS/400",
		HostSystemDarwin:    "OS X (Darwin)",
	}
	if name, ok := names[h]; ok {
		return name
	}
	return "Unknown"
}

// Unix file-type bits, the upper 16 bits of a central-directory
// record's external file attributes when made by a Unix-family host.
const (
	UnixFileTypeMask = 0170000
	S_IFSOCK         = 0140000
	S_IFLNK          = 0120000
	S_IFREG          = 0100000
	S_IFBLK          = 0060000
	S_IFDIR          = 0040000
	S_IFCHR          = 0020000
	S_IFIFO          = 0010000
)

// symlinkIncapableHosts lists the version-made-by host bytes for
// platforms whose ZIP implementations never store Unix-style symlink
// mode bits, even if a byte happens to collide with S_IFLNK by
// accident of external-attribute encoding on that host.
var symlinkIncapableHosts = map[HostSystem]bool{
	HostSystemFAT:       true,
	HostSystemAmiga:     true,
	HostSystemOpenVMS:   true,
	HostSystemVMCMS:     true,
	HostSystemOS2HPFS:   true,
	HostSystemMVS:       true,
	HostSystemAcornRisc: true,
	HostSystemVFAT:      true,
	HostSystemAltMVS:    true,
	HostSystemOS400:     true,
}

// CanHaveSymlinks reports whether host may plausibly encode a Unix
// symlink mode bit in its external file attributes.
func CanHaveSymlinks(host HostSystem) bool {
	return !symlinkIncapableHosts[host]
}

// IsSymlinkMode reports whether the Unix mode bits in externalAttrs
// (already shifted down to the low 16 bits) mark a symbolic link.
func IsSymlinkMode(mode uint32) bool {
	return mode&UnixFileTypeMask == S_IFLNK
}

// IsDirMode reports whether mode marks a directory.
func IsDirMode(mode uint32) bool {
	return mode&UnixFileTypeMask == S_IFDIR
}
