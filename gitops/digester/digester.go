package digester

import (
	"crypto/sha1" //nolint:gosec // git object ids are sha1
	"encoding/hex"
	"strconv"
)

// BlobSHA returns the git blob object id of content,
// i.e. sha1("blob <len>\x00" + content) in hex.
func BlobSHA(content []byte) string {
	ha := sha1.New() //nolint:gosec // git object ids are sha1

	ha.Write([]byte("blob "))
	ha.Write([]byte(strconv.Itoa(len(content))))
	ha.Write([]byte{0})
	ha.Write(content)

	return hex.EncodeToString(ha.Sum(nil))
}

// Verify reports whether handle is the blob id of
// content.
func Verify(content []byte, handle string) bool {
	return handle != "" && BlobSHA(content) == handle
}
