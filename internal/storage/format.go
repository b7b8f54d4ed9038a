package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// QCOW2 header magic "QFI\xfb".
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// Boot sector signature at offset 510. GPT disks carry it in their
	// protective MBR as well.
	mbrSignature = []byte{0x55, 0xaa}
)

const mbrSignatureOffset = 510

// ErrUnsupportedImage is returned for files that are neither qcow2 nor a
// bootable raw disk.
var ErrUnsupportedImage = errors.New("unsupported or invalid image: not qcow2 and missing boot sector signature")

// DetectImageFormat reports the format of the image at filePath.
func DetectImageFormat(filePath string) (VolumeFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DetectFormat(f)
}

// DetectFormat inspects the leading bytes of r.
func DetectFormat(r io.ReaderAt) (VolumeFormat, error) {
	magic := make([]byte, len(qcow2Magic))
	if err := readFullAt(r, magic, 0); err != nil {
		return "", fmt.Errorf("file too small to be valid image: %w", err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return VolumeFormatQCOW2, nil
	}

	sig := make([]byte, len(mbrSignature))
	if err := readFullAt(r, sig, mbrSignatureOffset); err != nil {
		return "", fmt.Errorf("file too small for boot sector: %w", err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return VolumeFormatRaw, nil
	}
	return "", ErrUnsupportedImage
}

func readFullAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
