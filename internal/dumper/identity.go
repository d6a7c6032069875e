package dumper

import (
	"fmt"
	"strings"
)

// Identity describes the inserted disc. Immutable after identification.
type Identity struct {
	Title       string
	ProductCode string // 9 characters, AAAA##### layout
	DiscVersion string
	AppVersion  string
}

// Region returns the sales region inferred from the product code, empty
// for unknown codes.
func (id Identity) Region() string {
	if len(id.ProductCode) < 3 {
		return ""
	}

	switch id.ProductCode[2] {
	case 'A':
		return "ASIA"
	case 'E':
		return "EU"
	case 'H':
		return "HK"
	case 'J', 'P', 'T':
		return "JP"
	case 'K':
		return "KR"
	case 'U':
		return "US"
	default:
		return ""
	}
}

func (id Identity) String() string {
	return fmt.Sprintf("%s [%s]", id.ProductCode, id.Title)
}

// DefaultNameTemplate is the output directory naming template used when
// the caller provides none.
const DefaultNameTemplate = "{product_code} [{title}]"

// OutputName renders the output directory name from a template.
// Recognized placeholders: {product_code}, {product_code_letters},
// {product_code_numbers}, {title}, {region}. The result is sanitized for
// host filesystems; an empty result falls back to "unknown-<product_code>".
func (id Identity) OutputName(template string) string {
	if template == "" {
		template = DefaultNameTemplate
	}

	letters, numbers := id.ProductCode, ""
	if len(id.ProductCode) == 9 {
		letters, numbers = id.ProductCode[:4], id.ProductCode[4:]
	}

	name := strings.NewReplacer(
		"{product_code}", id.ProductCode,
		"{product_code_letters}", letters,
		"{product_code_numbers}", numbers,
		"{title}", id.Title,
		"{region}", id.Region(),
	).Replace(template)

	name = sanitizeName(name)
	if name == "" {
		name = "unknown-" + sanitizeName(id.ProductCode)
	}

	return name
}

// forbidden covers the union of characters rejected by common host
// filesystems, so output names stay portable.
const forbidden = `<>:"/\|?*`

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(forbidden, r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimRight(strings.TrimSpace(b.String()), ".")
}
