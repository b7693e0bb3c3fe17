package loader

import (
	"fmt"
	"strings"

	"github.com/rbldns/rbldns/zone"
)

// ZoneSpec is one origin:type:file[,file...] argument from the command
// line, already split into fields.
type ZoneSpec struct {
	Origin string
	Kind   zone.Kind
	Files  []string
}

// ParseZoneSpecs parses the positional zonespec arguments. Repeated
// origins append datasets to the same zone; identical (origin, type)
// pairs share a single dataset, so their file lists are merged in the
// order given.
func ParseZoneSpecs(args []string) ([]ZoneSpec, error) {
	var specs []ZoneSpec
	index := make(map[string]int) // "origin\x00type" -> index into specs

	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q (want origin:type:file[,file...])", ErrBadZoneSpec, arg)
		}
		origin, typeText, fileText := parts[0], parts[1], parts[2]
		if origin == "" || fileText == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadZoneSpec, arg)
		}
		kind, err := zone.ParseKind(typeText)
		if err != nil {
			return nil, err
		}
		origin = normalizeOrigin(origin)
		files := strings.Split(fileText, ",")

		key := origin + "\x00" + kind.String()
		if i, ok := index[key]; ok {
			specs[i].Files = append(specs[i].Files, files...)
			continue
		}
		index[key] = len(specs)
		specs = append(specs, ZoneSpec{Origin: origin, Kind: kind, Files: files})
	}
	return specs, nil
}

// normalizeOrigin lowercases origin and ensures it ends in a dot, matching
// the wire-form convention Zone.Origin is stored in.
func normalizeOrigin(origin string) string {
	origin = strings.ToLower(origin)
	if !strings.HasSuffix(origin, ".") {
		origin += "."
	}
	return origin
}
