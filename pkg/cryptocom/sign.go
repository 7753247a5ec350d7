package cryptocom

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Sign returns the hex HMAC-SHA256 signature of a private request:
// method + params (sorted by key, each as key+value) + nonce.
func Sign(secret, method string, params map[string]any, nonce int64) string {
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteString(paramString(params))
	sb.WriteString(strconv.FormatInt(nonce, 10))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func paramString(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(valueString(params[k]))
	}
	return sb.String()
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return paramString(t)
	case []any:
		var sb strings.Builder
		for _, e := range t {
			sb.WriteString(valueString(e))
		}
		return sb.String()
	default:
		return ""
	}
}
