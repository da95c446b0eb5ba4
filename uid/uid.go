package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Generator 行标识生成器，为主键字段生成唯一的字符串标识
type Generator interface {
	NewID() string
}

// UUIDGeneratorOptions UUID 生成器选项
type UUIDGeneratorOptions struct {
	// UUID 版本，支持 v1/v4/v6/v7，默认 v4
	Version string `cfg:"version" def:"v4" validate:"omitempty,oneof=v1 v4 v6 v7"`
	// 是否保留中划线连字符，默认不保留
	WithHyphens bool `cfg:"withHyphens"`
}

// UUIDGenerator 基于 UUID 的行标识生成器
type UUIDGenerator struct {
	version     string
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDGeneratorOptions) *UUIDGenerator {
	if options == nil {
		options = &UUIDGeneratorOptions{Version: "v4"}
	}
	if options.Version == "" {
		options.Version = "v4"
	}

	return &UUIDGenerator{
		version:     options.Version,
		withHyphens: options.WithHyphens,
	}
}

func (g *UUIDGenerator) NewID() string {
	var u uuid.UUID
	switch g.version {
	case "v1":
		u, _ = uuid.NewUUID()
	case "v4":
		u = uuid.New()
	case "v6":
		u = uuid.Must(uuid.NewV6())
	case "v7":
		u = uuid.Must(uuid.NewV7())
	default:
		u = uuid.New()
	}

	if g.withHyphens {
		return u.String()
	}

	// 直接将字节转换为十六进制字符串，避免字符串替换
	return hex.EncodeToString(u[:])
}
