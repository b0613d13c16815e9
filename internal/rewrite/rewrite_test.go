package rewrite

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortable(t *testing.T) {
	report := json.RawMessage(`{
		"fonts": [{"name": "Minion", "location": "/Library/Fonts/Minion.otf"}],
		"pages": [{
			"page": 1,
			"geometry": {"x": 0.125, "y": 1e2, "width": 210, "height": 297},
			"preview": "/srv/juillet/storage/p1/assets/images/page-1.png",
			"content": [
				{"type": "image", "source": "/srv/juillet/storage/p1/assets/images/a&b.png"},
				{"type": "image", "source": "C:\\srv\\juillet\\storage\\p1\\assets\\images\\win.png"},
				{"type": "image", "source": "/srv/juillet/storage2/p1/other.png"},
				{"type": "text_frame", "content": [{"type": "text", "text": "see /srv/juillet/storage/p1 and /srv/juillet/storage/p2"}]}
			]
		}]
	}`)

	out, err := Portable(report, "/srv/juillet/storage/")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))

	page := got["pages"].([]any)[0].(map[string]any)
	assert.Equal(t, "{hostname}/p1/assets/images/page-1.png", page["preview"])

	content := page["content"].([]any)
	assert.Equal(t, "{hostname}/p1/assets/images/a&b.png", content[0].(map[string]any)["source"])
	// a root with a different prefix on disk is not ours
	assert.Equal(t, "C:\\srv\\juillet\\storage\\p1\\assets\\images\\win.png", content[1].(map[string]any)["source"])
	assert.Equal(t, "/srv/juillet/storage2/p1/other.png", content[2].(map[string]any)["source"])

	text := content[3].(map[string]any)["content"].([]any)[0].(map[string]any)["text"]
	assert.Equal(t, "see /srv/juillet/storage/p1 and /srv/juillet/storage/p2", text, "text content is not an asset reference")

	assert.Equal(t, "/Library/Fonts/Minion.otf", got["fonts"].([]any)[0].(map[string]any)["location"])
	assert.Contains(t, string(out), `"x":0.125`, "numbers keep their spelling")
	assert.Contains(t, string(out), `"y":1e2`)
	assert.Contains(t, string(out), `a&b.png`, "no HTML escaping")
}

func TestPortable_WindowsRoot(t *testing.T) {
	report := json.RawMessage(`{"preview": "C:\\juillet\\storage\\p1\\assets\\images\\x.png", "source": "C:/juillet/storage/p1/y.png"}`)

	out, err := Portable(report, `C:\juillet\storage`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"preview": "{hostname}/p1/assets/images/x.png", "source": "{hostname}/p1/y.png"}`, string(out))
}

func TestPortable_RepeatedRoot(t *testing.T) {
	report := json.RawMessage(`{"images": [{"source": "/data/storage/p/a.png"}], "location": "/data/storage/p/x|/data/storage/p/y"}`)

	out, err := Portable(report, "/data/storage")
	require.NoError(t, err)
	assert.JSONEq(t, `{"images": [{"source": "{hostname}/p/a.png"}], "location": "{hostname}/p/x|{hostname}/p/y"}`, string(out))
}

func TestPortable_Idempotent(t *testing.T) {
	report := json.RawMessage(`{"preview": "/data/storage/p/assets/images/1.png"}`)
	once, err := Portable(report, "/data/storage")
	require.NoError(t, err)
	twice, err := Portable(once, "/data/storage")
	require.NoError(t, err)
	assert.JSONEq(t, string(once), string(twice))
}

func TestExpand(t *testing.T) {
	report := json.RawMessage(`{
		"fonts": [{"name": "{hostname}", "location": "{hostname}/p1/assets/fonts/a.otf"}],
		"pages": [{
			"preview": "{hostname}/p1/assets/images/page-1.png",
			"n": 12.50,
			"content": [
				{"type": "image", "source": "{HostName}/p1/assets/images/x.png"},
				{"type": "image", "source": "{hostname}"},
				{"type": "image", "source": "{hostname}suffix"},
				{"type": "image", "source": "{tenant}/x"},
				{"type": "text_frame", "content": [
					{"type": "text", "text": "{hostname}"},
					{"type": "text", "text": "{Hostname}/index"},
					{"type": "text", "text": "Write {hostname}/path in the field"}
				]}
			]
		}]
	}`)

	out, err := Expand(report, map[string]string{"hostname": "https://juillet.example:8443"})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"fonts": [{"name": "{hostname}", "location": "https://juillet.example:8443/p1/assets/fonts/a.otf"}],
		"pages": [{
			"preview": "https://juillet.example:8443/p1/assets/images/page-1.png",
			"n": 12.50,
			"content": [
				{"type": "image", "source": "https://juillet.example:8443/p1/assets/images/x.png"},
				{"type": "image", "source": "https://juillet.example:8443"},
				{"type": "image", "source": "{hostname}suffix"},
				{"type": "image", "source": "{tenant}/x"},
				{"type": "text_frame", "content": [
					{"type": "text", "text": "{hostname}"},
					{"type": "text", "text": "{Hostname}/index"},
					{"type": "text", "text": "Write {hostname}/path in the field"}
				]}
			]
		}]
	}`, string(out))
	assert.Contains(t, string(out), `12.50`)
}

func TestExpand_NoSubstitutions(t *testing.T) {
	report := json.RawMessage(`{"preview":"{hostname}/x"}`)
	out, err := Expand(report, nil)
	require.NoError(t, err)
	assert.Equal(t, string(report), string(out))
}

func TestTransform_InvalidJSON(t *testing.T) {
	_, err := Expand(json.RawMessage(`{`), map[string]string{"hostname": "x"})
	assert.Error(t, err)
}
