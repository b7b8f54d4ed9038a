// Package vm is the libvirt implementation of environment.Backend.
//
// A Backend is opened on a directory holding a Cruciblefile. Each machine of
// the descriptor becomes one libvirt domain named by naming.DomainName, with
// a qcow2 overlay of a base image as its boot disk, optional data disks and
// a cloud-init seed that creates the SSH user. Commands reach machines over
// SSH (see internal/ssh).
//
// Creation cleans up after itself: if any step after the first volume fails,
// the domain is undefined and every volume carrying the domain prefix is
// deleted before the error is returned. Cleanup errors are logged, never
// returned.
package vm
