package dom

// Canvas is the element returned by document.createElement.
type Canvas struct {
	BaseURL string
	Width   float64
	Height  float64
	Style   *Style
	DataURL string
}

var canvasProps = props[Canvas]{
	"baseUrl": stringField(func(c *Canvas) *string { return &c.BaseURL }),
	"width":   numberField(func(c *Canvas) *float64 { return &c.Width }),
	"height":  numberField(func(c *Canvas) *float64 { return &c.Height }),
	"style":   readOnly(func(c *Canvas) any { return c.Style }),
}

func (c *Canvas) Class() string               { return "HTMLCanvasElement" }
func (c *Canvas) Get(name string) (any, bool) { return canvasProps.get(c, name) }
func (c *Canvas) Set(name string, v any) bool { return canvasProps.set(c, name, v) }

// Style is an element's CSS declaration.
type Style struct {
	Display string
}

var styleProps = props[Style]{
	"display": stringField(func(s *Style) *string { return &s.Display }),
}

func (s *Style) Class() string               { return "CSSStyleDeclaration" }
func (s *Style) Get(name string) (any, bool) { return styleProps.get(s, name) }
func (s *Style) Set(name string, v any) bool { return styleProps.set(s, name, v) }

// Image is the decoy <img> element found by querySelectorAll.
type Image struct {
	Src      string
	Width    float64
	Height   float64
	Complete bool
}

var imageProps = props[Image]{
	"src":      stringField(func(i *Image) *string { return &i.Src }),
	"width":    numberField(func(i *Image) *float64 { return &i.Width }),
	"height":   numberField(func(i *Image) *float64 { return &i.Height }),
	"complete": readOnly(func(i *Image) any { return i.Complete }),
}

func (i *Image) Class() string               { return "HTMLImageElement" }
func (i *Image) Get(name string) (any, bool) { return imageProps.get(i, name) }
func (i *Image) Set(name string, v any) bool { return imageProps.set(i, name, v) }

// ImageData carries the raw RGBA pixels of the decoy image.
type ImageData struct {
	Width  float64
	Height float64
	Data   []byte
}

var imageDataProps = props[ImageData]{
	"width":  readOnly(func(d *ImageData) any { return d.Width }),
	"height": readOnly(func(d *ImageData) any { return d.Height }),
}

func (d *ImageData) Class() string               { return "ImageData" }
func (d *ImageData) Get(name string) (any, bool) { return imageDataProps.get(d, name) }
func (d *ImageData) Set(name string, v any) bool { return imageDataProps.set(d, name, v) }

// NodeList is the result of querySelectorAll.
type NodeList struct {
	Items []any
}

var nodeListProps = props[NodeList]{
	"length": readOnly(func(n *NodeList) any { return float64(len(n.Items)) }),
}

func (n *NodeList) Class() string               { return "NodeList" }
func (n *NodeList) Get(name string) (any, bool) { return nodeListProps.get(n, name) }
func (n *NodeList) Set(name string, v any) bool { return nodeListProps.set(n, name, v) }

// Item returns the node at index i, or Undefined.
func (n *NodeList) Item(i uint32) any {
	if int(i) >= len(n.Items) {
		return Undefined
	}
	return n.Items[i]
}

// Meta is the <meta> element found by querySelector.
type Meta struct {
	Content    string
	HasContent bool
}

var metaProps = props[Meta]{
	"content": {
		get: func(m *Meta) any {
			if !m.HasContent {
				return Null
			}
			return m.Content
		},
	},
}

func (m *Meta) Class() string               { return "HTMLMetaElement" }
func (m *Meta) Get(name string) (any, bool) { return metaProps.get(m, name) }
func (m *Meta) Set(name string, v any) bool { return metaProps.set(m, name, v) }

// Attribute returns the named attribute, as getAttribute would.
func (m *Meta) Attribute(name string) (string, bool) {
	if name != "content" || !m.HasContent {
		return "", false
	}
	return m.Content, true
}
