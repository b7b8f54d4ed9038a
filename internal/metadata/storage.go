// Package metadata records which environment owns a libvirt domain, using
// libvirt's custom XML metadata so the record lives with the domain itself.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
)

const (
	// MetadataNamespace is the XML namespace for crucible metadata.
	MetadataNamespace = "http://crucible.cofront.xyz/v1alpha1"

	// MetadataKey is the element prefix used when storing metadata.
	MetadataKey = "crucible"
)

// MachineRecord identifies the run and workspace that created a domain.
type MachineRecord struct {
	Environment string        `yaml:"environment"`
	Machine     string        `yaml:"machine"`
	Workdir     string        `yaml:"workdir"`
	RunID       string        `yaml:"runID,omitempty"`
	Created     v1alpha1.Time `yaml:"created,omitempty"`
}

// OwnedBy reports whether the domain was created from the descriptor in dir.
func (r *MachineRecord) OwnedBy(dir string) bool {
	return r.Workdir == dir
}

// LibvirtClient is the subset of libvirt used for metadata.
type LibvirtClient interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// crucibleMetadata wraps the YAML record. chardata keeps the YAML escaped
// inside the domain XML.
type crucibleMetadata struct {
	XMLName xml.Name `xml:"metadata"`
	Xmlns   string   `xml:"xmlns,attr"`
	Record  string   `xml:",chardata"`
}

// Marshal renders rec as the metadata XML element.
func Marshal(rec *MachineRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("machine record is nil")
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal machine record to YAML: %w", err)
	}
	out, err := xml.Marshal(crucibleMetadata{Xmlns: MetadataNamespace, Record: string(data)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}
	return string(out), nil
}

// Unmarshal parses a metadata XML element.
func Unmarshal(xmlStr string) (*MachineRecord, error) {
	var md crucibleMetadata
	if err := xml.Unmarshal([]byte(xmlStr), &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}
	var rec MachineRecord
	if err := yaml.Unmarshal([]byte(md.Record), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine record from YAML: %w", err)
	}
	if rec.Machine == "" {
		return nil, fmt.Errorf("machine record has no machine name")
	}
	return &rec, nil
}

// Store saves rec on domain, replacing any existing record.
func Store(l LibvirtClient, domain libvirt.Domain, rec *MachineRecord) error {
	xmlStr, err := Marshal(rec)
	if err != nil {
		return err
	}
	err = l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{xmlStr},
		libvirt.OptString{MetadataKey},
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}
	return nil
}

// Load reads the record stored on domain.
func Load(l LibvirtClient, domain libvirt.Domain) (*MachineRecord, error) {
	xmlStr, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}
	return Unmarshal(xmlStr)
}

// Exists reports whether domain carries a crucible record.
func Exists(l LibvirtClient, domain libvirt.Domain) bool {
	_, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainModificationImpact(0),
	)
	return err == nil
}
