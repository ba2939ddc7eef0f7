package transfer_service

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// normalizeChecksum accepts a hex SHA-256 or MD5 digest.
func normalizeChecksum(sum string) (string, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if len(sum) != sha256.Size*2 && len(sum) != md5.Size*2 {
		return "", fmt.Errorf("%w: ожидается sha256 или md5 в hex", ErrInvalidChecksum)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return sum, nil
}

func fileChecksum(fs afero.Fs, path string, size int) (string, error) {
	var h hash.Hash
	if size == md5.Size*2 {
		h = md5.New()
	} else {
		h = sha256.New()
	}

	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
