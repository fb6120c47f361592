package workflow

import (
	"encoding/json"
	"regexp"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/db"
)

// placeholderPattern matches ${node}, ${node.value}, ${node.value.a.b.c} and
// ${node.meta.key} references inside a node's config (§4.F step 4).
var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolateLogger receives a warning for every ${...} placeholder that
// resolves to nothing; defaults to a no-op so tests that never call
// SetLogger still behave. Set once at process start via SetLogger.
var interpolateLogger = zap.NewNop()

// SetLogger installs the logger used to warn about unresolved placeholders.
func SetLogger(l *zap.Logger) {
	interpolateLogger = l
}

// Interpolate resolves every ${...} placeholder found in raw against the
// accumulated node_outputs, using tidwall/gjson for the dotted-path lookup
// the teacher has no equivalent for; the placeholder grammar and merge
// target are described in spec.md §4.F and grounded on the pack's templated
// wait_for_completion config examples.
func Interpolate(raw string, outputs map[string]db.NodeEnvelope) (string, error) {
	marshaled, err := marshalOutputs(outputs)
	if err != nil {
		return "", err
	}
	doc := gjson.ParseBytes(marshaled)

	var resolveErr error
	result := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		res := doc.Get(path)
		if !res.Exists() {
			interpolateLogger.Warn("unresolved placeholder left literal", zap.String("path", path))
			return match
		}
		return res.String()
	})
	return result, resolveErr
}

// InterpolateConfig walks a node's config map and interpolates every string
// leaf value in place, returning a new map (the original is left untouched
// so repeated node re-execution, e.g. on a conditional retry, always
// resolves against the current state).
func InterpolateConfig(cfg map[string]interface{}, outputs map[string]db.NodeEnvelope) (map[string]interface{}, error) {
	marshaled, err := marshalOutputs(outputs)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(marshaled)
	return interpolateValue(cfg, doc).(map[string]interface{}), nil
}

func interpolateValue(v interface{}, doc gjson.Result) interface{} {
	switch val := v.(type) {
	case string:
		return placeholderPattern.ReplaceAllStringFunc(val, func(match string) string {
			path := placeholderPattern.FindStringSubmatch(match)[1]
			res := doc.Get(path)
			if !res.Exists() {
				interpolateLogger.Warn("unresolved placeholder left literal", zap.String("path", path))
				return match
			}
			return res.String()
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = interpolateValue(child, doc)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = interpolateValue(child, doc)
		}
		return out
	default:
		return v
	}
}

func marshalOutputs(outputs map[string]db.NodeEnvelope) ([]byte, error) {
	return json.Marshal(outputs)
}
