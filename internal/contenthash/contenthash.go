// Package contenthash 计算上传内容的规范身份：256 位摘要的 base64url 编码。
//
// 编码使用 RFC 4648 §5 的 URL 安全字母表且不带填充，字符集严格为
// [A-Za-z0-9_-]。该映射是可逆的：不同的摘要永远不会得到相同的编码，
// 因此编码结果可以直接作为存储键。
package contenthash

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm 指定摘要算法。
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// DefaultAlgorithm 是未配置时使用的算法。
const DefaultAlgorithm = SHA256

// EncodedLen 是 32 字节摘要经无填充 base64url 编码后的长度。
var EncodedLen = base64.RawURLEncoding.EncodedLen(32)

// ParseAlgorithm 解析配置中的算法名称，空字符串返回默认算法。
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "":
		return DefaultAlgorithm, nil
	case SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm: %q", name)
	}
}

// New 返回对应算法的哈希器。
func New(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case SHA256, "":
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm: %q", alg)
	}
}

// Sum 计算 data 的内容哈希。
func Sum(alg Algorithm, data []byte) (string, error) {
	h, err := New(alg)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return Encode(h.Sum(nil)), nil
}

// Encode 将原始摘要编码为存储键使用的字符串。
func Encode(digest []byte) string {
	return base64.RawURLEncoding.EncodeToString(digest)
}

// Valid 判断 s 是否为合法的编码哈希。
func Valid(s string) bool {
	if len(s) != EncodedLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
