package compose

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// renderCloudInit merges every egg's fragment into one cloud-config
// document. Eggs must already be in dependency order. List-valued
// sections append in that order; any other key may be contributed by at
// most one egg.
func renderCloudInit(eggs []*model.Egg) ([]byte, error) {
	doc := map[string]any{}

	for _, egg := range eggs {
		fragment, err := eggFragment(egg)
		if err != nil {
			return nil, err
		}
		for key, value := range fragment {
			if err := mergeSection(doc, key, value, egg.Name); err != nil {
				return nil, err
			}
		}
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling cloud-init: %w", err)
	}
	return append([]byte("#cloud-config\n"), body...), nil
}

// eggFragment renders one egg into top-level cloud-init keys.
func eggFragment(egg *model.Egg) (map[string]any, error) {
	switch egg.Type {
	case model.EggSnap:
		cmd := []any{"snap", "install", egg.Name}
		if egg.SnapChannel != "" {
			cmd = append(cmd, "--channel="+egg.SnapChannel)
		}
		if egg.SnapClassic {
			cmd = append(cmd, "--classic")
		}
		return map[string]any{"snap": map[string]any{"commands": []any{cmd}}}, nil

	case model.EggCloudInit:
		fragment := map[string]any{}
		if err := yaml.Unmarshal([]byte(egg.CloudInit), &fragment); err != nil {
			return nil, fmt.Errorf("egg %s: invalid cloud-init payload: %w", egg.Name, err)
		}
		return fragment, nil

	case model.EggLXDContainer, model.EggLXDVM:
		cmd := []string{"lxc", "launch", egg.LXDImageAlias, egg.Name}
		if egg.Type == model.EggLXDVM {
			cmd = append(cmd, "--vm")
		}
		for _, profile := range egg.LXDProfiles {
			cmd = append(cmd, "-p", profile)
		}
		return map[string]any{"runcmd": []any{strings.Join(cmd, " ")}}, nil

	default:
		return nil, fmt.Errorf("egg %s: unsupported type %q", egg.Name, egg.Type)
	}
}

// mergeSection folds one top-level key into the document. Lists append,
// maps merge one level deep, anything else is exclusive.
func mergeSection(doc map[string]any, key string, value any, eggName string) error {
	existing, present := doc[key]
	if !present {
		doc[key] = value
		return nil
	}

	switch existingTyped := existing.(type) {
	case []any:
		add, ok := value.([]any)
		if !ok {
			return &SectionCollisionError{Section: key, EggName: eggName}
		}
		doc[key] = append(existingTyped, add...)
		return nil

	case map[string]any:
		add, ok := value.(map[string]any)
		if !ok {
			return &SectionCollisionError{Section: key, EggName: eggName}
		}
		for subKey, subValue := range add {
			existingSub, subPresent := existingTyped[subKey]
			if !subPresent {
				existingTyped[subKey] = subValue
				continue
			}
			existingList, aList := existingSub.([]any)
			addList, bList := subValue.([]any)
			if !aList || !bList {
				return &SectionCollisionError{Section: key + "." + subKey, EggName: eggName}
			}
			existingTyped[subKey] = append(existingList, addList...)
		}
		return nil

	default:
		return &SectionCollisionError{Section: key, EggName: eggName}
	}
}
