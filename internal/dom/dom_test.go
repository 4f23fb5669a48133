package dom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFunc struct{ name string }

func (fakeFunc) Invocable() {}

func testPage() Page {
	return Page{
		EmbedURL:       "https://megacloud.tv/embed-2/e-1/abc?k=1",
		Origin:         "https://megacloud.tv",
		Xrax:           "abc",
		Meta:           "metakey==",
		ImageSrc:       "https://megacloud.tv/images/image.png?v=0.1.0",
		UserAgent:      "ua",
		BrowserVersion: 1878522368,
		TimeOrigin:     time.UnixMilli(1700000000000),
	}
}

func TestWindowTypedProperties(t *testing.T) {
	env := NewEnv(testPage())
	w := env.Window

	tests := []struct {
		name string
		want any
	}{
		{"xrax", "abc"},
		{"G", "abc"},
		{"origin", "https://megacloud.tv"},
		{"error", false},
		{"length", float64(0)},
		{"browser_version", float64(1878522368)},
		{"bytes", Undefined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := w.Get(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	doc, _ := w.Get("document")
	assert.Same(t, env.Window.Document, doc)
}

func TestUnknownPropertyIsUndefined(t *testing.T) {
	env := NewEnv(testPage())

	objects := []Object{env.Window, env.Window.Navigator, env.Canvas, env.Image, env.Meta, env.Window.Crypto}
	for _, o := range objects {
		t.Run(o.Class(), func(t *testing.T) {
			got, ok := o.Get("definitelyNotAProperty")
			assert.False(t, ok)
			assert.Equal(t, Undefined, got)
			assert.False(t, o.Set("definitelyNotAProperty", "x"))
		})
	}
}

func TestWindowSetter(t *testing.T) {
	w := NewEnv(testPage()).Window

	assert.True(t, w.Set("pid", "abc123"))
	assert.Equal(t, "abc123", w.PID)

	assert.False(t, w.Set("error", "not a bool"))
	assert.False(t, w.Set("document", &Document{}), "read-only property")
	assert.False(t, w.Set("random", "plain value"), "only functions attach to unknown names")

	fn := fakeFunc{name: "nav"}
	assert.True(t, w.Set("navigate", fn))
	got, ok := w.Callback("navigate")
	require.True(t, ok)
	assert.Equal(t, fn, got)
	assert.Equal(t, []string{"navigate"}, w.Callbacks())
}

func TestStorageStringifies(t *testing.T) {
	s := NewStorage()

	require.True(t, s.Set("kversion", float64(2)))
	require.True(t, s.Set("kid", "k-1"))
	assert.False(t, s.Set("obj", &Document{}))

	v, ok := s.Item("kversion")
	require.True(t, ok)
	assert.Equal(t, "2", v)
	assert.Equal(t, 2, s.Len())
}

func TestEnvsAreIsolated(t *testing.T) {
	a := NewEnv(testPage())
	b := NewEnv(testPage())

	a.Window.LocalStorage.SetItem("kid", "from-a")
	a.ImageData.Data[0] = 0xff

	_, ok := b.Window.LocalStorage.Item("kid")
	assert.False(t, ok)
	assert.Zero(t, b.ImageData.Data[0])
}

func TestNewEnvDefaults(t *testing.T) {
	p := testPage()
	p.Meta = ""
	env := NewEnv(p)

	assert.Len(t, env.ImageData.Data, ImageWidth*ImageHeight*4)
	assert.True(t, env.Image.Complete)
	assert.Equal(t, "inline", env.Canvas.Style.Display)
	assert.Equal(t, float64(1700000000000), env.Window.Performance.TimeOrigin)
	assert.Equal(t, env.Image, env.NodeList.Item(0))
	assert.Equal(t, Undefined, env.NodeList.Item(1))

	_, ok := env.Meta.Attribute("content")
	assert.False(t, ok)
	assert.True(t, len(env.Canvas.DataURL) > 0)
	assert.Contains(t, env.Canvas.DataURL, "data:image/png;base64,")
}

func TestIsObject(t *testing.T) {
	assert.True(t, IsObject(&Crypto{}))
	assert.True(t, IsObject([]byte{1}))
	assert.False(t, IsObject(Undefined))
	assert.False(t, IsObject(Null))
	assert.False(t, IsObject("s"))
	assert.False(t, IsObject(1.5))
	assert.False(t, IsObject(fakeFunc{}))
}
