package extract

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
)

// keyVersion parses kversion into the 32-bit value whose big-endian bytes
// are xored into the key material.
func keyVersion(kversion string) (uint32, error) {
	// no sign allowed
	v, err := strconv.ParseUint(kversion, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kversion: %w", err)
	}
	return uint32(v), nil
}

// xorKey returns data xored with the cycled big-endian bytes of v.
func xorKey(data []byte, v uint32) []byte {
	var mask [4]byte
	binary.BigEndian.PutUint32(mask[:], v)

	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ mask[i%4]
	}
	return out
}

// keyMaterial picks the bytes the password is derived from: the navigate
// payload when t is non-zero, otherwise k. k is a byte array or a string.
func keyMaterial(t int, k json.RawMessage, payload []byte) ([]byte, error) {
	if t != 0 {
		if len(payload) == 0 {
			return nil, fmt.Errorf("navigate returned no key material")
		}
		return payload, nil
	}

	var ints []int
	if err := json.Unmarshal(k, &ints); err == nil && len(ints) > 0 {
		out := make([]byte, len(ints))
		for i, n := range ints {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("k[%d] = %d is not a byte", i, n)
			}
			out[i] = byte(n)
		}
		return out, nil
	}

	var s string
	if err := json.Unmarshal(k, &s); err == nil && s != "" {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("response has t=0 and no usable k")
}

// password is the base64 text the sources were encrypted with.
func password(material []byte, kversion string) ([]byte, error) {
	v, err := keyVersion(kversion)
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString(xorKey(material, v))
	return []byte(enc), nil
}

// deriveKeyAndIV is OpenSSL's EVP_BytesToKey with MD5 and one iteration,
// producing a 32-byte key and a 16-byte IV.
func deriveKeyAndIV(password, salt []byte) (key, iv []byte) {
	seed := append(append([]byte(nil), password...), salt...)

	var out, prev []byte
	for len(out) < 48 {
		h := md5.Sum(append(prev, seed...))
		prev = h[:]
		out = append(out, prev...)
	}
	return out[:32], out[32:48]
}

// decryptSources decrypts an OpenSSL "Salted__" base64 blob.
func decryptSources(password []byte, value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decoding sources: %w", err)
	}
	if len(raw) < 32 || (len(raw)-16)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext has invalid length %d", len(raw))
	}

	key, iv := deriveKeyAndIV(password, raw[8:16])
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	data := make([]byte, len(raw)-16)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(data, raw[16:])
	return unpad(data)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("bad padding (wrong key?)")
	}
	if !bytes.Equal(data[len(data)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("bad padding (wrong key?)")
	}
	return data[:len(data)-n], nil
}
