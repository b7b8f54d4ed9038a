// Package storage manages the libvirt storage pools and volumes backing
// crucible machines.
//
// Two directory pools are used. crucible-images holds base images imported
// with ImportImage. crucible-vms holds per-machine volumes: a qcow2 overlay
// of the base image for the boot disk, empty data disks, and the cloud-init
// seed ISO. Volume names carry the domain name as a prefix (see the naming
// package), so DeleteVolumesWithPrefix removes everything one machine owns.
//
// Imported images are validated by content rather than extension. QCOW2
// files start with "QFI\xfb" and bootable raw images carry the 0x55aa boot
// sector signature at offset 510.
package storage
