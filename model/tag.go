package model

import (
	"fmt"
	"strings"
)

// Tag represents a parsed oql struct tag.
type Tag struct {
	Skip       bool
	Column     string
	PrimaryKey bool
	IDKind     IDKind
	Sequence   string
	Size       int
	Unique     bool
	NotNull    bool
	Default    string
	Type       string
	CreatedBy  bool
	CreatedAt  bool
	UpdatedBy  bool
	UpdatedAt  bool
	DeletedAt  bool
	Version    bool
}

// ParseTag parses the "oql" tag string.
//
// Tokens are separated by spaces, semicolons or commas (commas inside
// parentheses are kept, e.g. type:decimal(10,2)). Each token is either a
// bare flag or a key:value pair.
func ParseTag(tagStr string) (*Tag, error) {
	tag := &Tag{}
	tagStr = strings.TrimSpace(tagStr)
	if tagStr == "" {
		return tag, nil
	}
	if tagStr == "-" {
		tag.Skip = true
		return tag, nil
	}

	var sb strings.Builder
	depth := 0
	for _, r := range tagStr {
		switch r {
		case '(':
			depth++
			sb.WriteRune(r)
		case ')':
			if depth > 0 {
				depth--
			}
			sb.WriteRune(r)
		case ';', ',':
			if depth > 0 {
				sb.WriteRune(r)
			} else {
				sb.WriteRune(' ')
			}
		default:
			sb.WriteRune(r)
		}
	}

	for _, part := range strings.Fields(sb.String()) {
		kv := strings.SplitN(part, ":", 2)
		key := strings.ToLower(kv[0])
		var val string
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}

		switch key {
		case "column":
			tag.Column = val
		case "pk":
			tag.PrimaryKey = true
		case "auto":
			kind, err := parseIDKind(val)
			if err != nil {
				return nil, err
			}
			tag.IDKind = kind
		case "seq", "sequence":
			tag.IDKind = Sequence
			tag.Sequence = val
		case "size":
			if _, err := fmt.Sscanf(val, "%d", &tag.Size); err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", val, err)
			}
		case "unique":
			tag.Unique = true
		case "notnull":
			tag.NotNull = true
		case "default":
			tag.Default = val
		case "type":
			tag.Type = val
		case "created_by":
			tag.CreatedBy = true
		case "created_at", "auto_time":
			tag.CreatedAt = true
		case "updated_by":
			tag.UpdatedBy = true
		case "updated_at", "auto_update":
			tag.UpdatedAt = true
		case "deleted_at", "soft_delete":
			tag.DeletedAt = true
		case "version":
			tag.Version = true
		default:
			return nil, fmt.Errorf("unknown tag option %q", key)
		}
	}
	return tag, nil
}

func parseIDKind(val string) (IDKind, error) {
	switch strings.ToLower(val) {
	case "", "increment", "identity":
		return AutoIncrement, nil
	case "snowflake":
		return Snowflake, nil
	case "guid", "uuid":
		return GUID, nil
	case "sequence", "seq":
		return Sequence, nil
	}
	return IDNone, fmt.Errorf("unknown auto id kind %q", val)
}
