// Package libvirt connects to libvirt for a provider and renders machine
// specs as domain XML.
//
// A provider name from the job configuration selects a Profile: the
// connection URI, the socket it is reached through and the domain type.
//
//	profile, err := libvirt.ProfileFor("kvm")
//	client, err := libvirt.Connect(profile, 0)
//	defer client.Close()
//
// This package does not define interfaces. Consumers (internal/vm,
// internal/storage, internal/metadata) declare the operations they need and
// *libvirt.Libvirt satisfies them implicitly.
package libvirt
