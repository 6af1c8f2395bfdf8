package render

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var pdfcpuConfig = sync.OnceValue(func() *model.Configuration {
	api.DisableConfigDir()
	return model.NewDefaultConfiguration()
})

// canonicalPDF rewrites doc so that its bytes depend only on its content.
// Objects are renumbered in breadth-first reference order starting at the
// catalog, then the info dictionary, visiting dictionary entries by sorted
// key. Dictionaries are written with sorted keys and stream data is copied
// unchanged. Objects unreachable from the trailer are dropped.
// gofpdi emits imported template objects in map iteration order.
func canonicalPDF(doc []byte) (_ []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("read pdf: %v", p)
		}
	}()
	ctx, err := api.ReadContext(bytes.NewReader(doc), pdfcpuConfig())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	xt := ctx.XRefTable
	if xt.Root == nil {
		return nil, errors.New("read pdf: no catalog")
	}

	objects := map[int]types.Object{}
	renum := map[int]int{}
	var order []int
	enqueue := func(nr int) {
		if _, seen := renum[nr]; seen {
			return
		}
		entry, ok := xt.FindTableEntryLight(nr)
		if !ok || entry.Free || entry.Object == nil {
			return
		}
		objects[nr] = entry.Object
		order = append(order, nr)
		renum[nr] = len(order)
	}

	enqueue(xt.Root.ObjectNumber.Value())
	if xt.Info != nil {
		enqueue(xt.Info.ObjectNumber.Value())
	}
	for i := 0; i < len(order); i++ {
		walkRefs(objects[order[i]], enqueue)
	}

	var out bytes.Buffer
	header := doc
	if i := bytes.IndexByte(doc, '\n'); i >= 0 {
		header = doc[:i]
	}
	out.Write(bytes.TrimRight(header, "\r"))
	out.WriteString("\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(order))
	for i, nr := range order {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n", i+1)
		writeObject(&out, renumber(objects[nr], renum))
		out.WriteString("\nendobj\n")
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(order)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<<\n/Size %d\n/Root %d 0 R\n", len(order)+1, renum[xt.Root.ObjectNumber.Value()])
	if xt.Info != nil {
		if n, ok := renum[xt.Info.ObjectNumber.Value()]; ok {
			fmt.Fprintf(&out, "/Info %d 0 R\n", n)
		}
	}
	fmt.Fprintf(&out, ">>\nstartxref\n%d\n", xref)
	out.WriteString("%%EOF\n")
	return out.Bytes(), nil
}

func sortedKeys(d types.Dict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func walkRefs(o types.Object, visit func(int)) {
	switch v := o.(type) {
	case types.IndirectRef:
		visit(v.ObjectNumber.Value())
	case *types.IndirectRef:
		visit(v.ObjectNumber.Value())
	case types.Dict:
		for _, k := range sortedKeys(v) {
			walkRefs(v[k], visit)
		}
	case types.StreamDict:
		walkRefs(v.Dict, visit)
	case types.Array:
		for _, e := range v {
			walkRefs(e, visit)
		}
	}
}

// renumber copies o with every reference mapped through renum. References to
// objects that were not kept become null.
func renumber(o types.Object, renum map[int]int) types.Object {
	ref := func(nr int) types.Object {
		if n, ok := renum[nr]; ok {
			return *types.NewIndirectRef(n, 0)
		}
		return nil
	}
	switch v := o.(type) {
	case types.IndirectRef:
		return ref(v.ObjectNumber.Value())
	case *types.IndirectRef:
		return ref(v.ObjectNumber.Value())
	case types.Dict:
		d := make(types.Dict, len(v))
		for k, e := range v {
			d[k] = renumber(e, renum)
		}
		return d
	case types.StreamDict:
		v.Dict = renumber(v.Dict, renum).(types.Dict)
		return v
	case types.Array:
		a := make(types.Array, len(v))
		for i, e := range v {
			a[i] = renumber(e, renum)
		}
		return a
	}
	return o
}

func writeObject(out *bytes.Buffer, o types.Object) {
	switch v := o.(type) {
	case nil:
		out.WriteString("null")
	case types.StreamDict:
		out.WriteString(v.Dict.PDFString())
		out.WriteString("\nstream\n")
		out.Write(v.Raw)
		out.WriteString("\nendstream")
	default:
		out.WriteString(v.PDFString())
	}
}
