package configstore

import "dario.cat/mergo"

// Overlay merges local onto base, with local values taking precedence on
// conflict — the request's local overrides onto its inherited
// configuration. Both inputs are left untouched; the result is an
// independent Tree.
func Overlay(base, local Tree) (Tree, error) {
	result := base.Clone()
	if len(local) == 0 {
		return result, nil
	}

	dst := map[string]interface{}(result)
	src := map[string]interface{}(local.Clone())

	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return nil, err
	}
	return Tree(dst), nil
}
