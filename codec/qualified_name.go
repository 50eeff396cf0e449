package codec

import (
	"fmt"
	"strings"
)

// NameOrder is the order of the two fixed-width components of a qualified name.
type NameOrder int

const (
	// ObjectFirst lays the object name out before the library name.
	ObjectFirst NameOrder = iota
	// LibraryFirst lays the library name out before the object name.
	LibraryFirst
)

const (
	qsysRoot     = "/QSYS.LIB/"
	defaultWidth = 10
)

// QualifiedName maps two fixed-width components (object and library) to an
// integrated file system path such as /QSYS.LIB/MYLIB.LIB/MYQ.OUTQ. Special
// library values starting with '*' map to %NAME% path components. Different
// backing operations lay the components out in different orders, so the same
// attribute may use two QualifiedName codecs for read and write.
type QualifiedName struct {
	ObjectType string
	Order      NameOrder
	// Width of each component. Zero means 10.
	Width int
}

func (c QualifiedName) width() int {
	if c.Width <= 0 {
		return defaultWidth
	}
	return c.Width
}

func (c QualifiedName) Decode(physical any) (any, error) {
	s, err := physicalText(physical)
	if err != nil {
		return nil, err
	}
	w := c.width()
	if len(s) < 2*w {
		s += strings.Repeat(" ", 2*w-len(s))
	}
	first := strings.TrimSpace(s[:w])
	second := strings.TrimSpace(s[w : 2*w])
	object, library := first, second
	if c.Order == LibraryFirst {
		object, library = second, first
	}
	if object == "" {
		return "", nil
	}
	if library == "" {
		library = "*LIBL"
	}
	return c.path(library, object), nil
}

func (c QualifiedName) Encode(logical any) (any, error) {
	p, ok := logical.(string)
	if !ok {
		return nil, typeError("string", logical)
	}
	w := c.width()
	if p == "" {
		return strings.Repeat(" ", 2*w), nil
	}
	library, object, err := c.parse(p)
	if err != nil {
		return nil, err
	}
	lib, err := pad(library, w)
	if err != nil {
		return nil, err
	}
	obj, err := pad(object, w)
	if err != nil {
		return nil, err
	}
	if c.Order == LibraryFirst {
		return lib + obj, nil
	}
	return obj + lib, nil
}

func (c QualifiedName) path(library, object string) string {
	suffix := "." + strings.ToUpper(c.ObjectType)
	if library == "QSYS" {
		return qsysRoot + object + suffix
	}
	if strings.HasPrefix(library, "*") {
		library = "%" + library[1:] + "%"
	}
	return qsysRoot + library + ".LIB/" + object + suffix
}

func (c QualifiedName) parse(p string) (library, object string, err error) {
	upper := strings.ToUpper(p)
	if !strings.HasPrefix(upper, qsysRoot) {
		return "", "", fmt.Errorf("path %q is not under %s", p, qsysRoot)
	}
	parts := strings.Split(p[len(qsysRoot):], "/")
	suffix := "." + strings.ToUpper(c.ObjectType)

	var objPart string
	switch len(parts) {
	case 1:
		library, objPart = "QSYS", parts[0]
	case 2:
		libPart := parts[0]
		if !strings.HasSuffix(strings.ToUpper(libPart), ".LIB") {
			return "", "", fmt.Errorf("path %q: library component must end in .LIB", p)
		}
		library = libPart[:len(libPart)-len(".LIB")]
		if len(library) > 2 && strings.HasPrefix(library, "%") && strings.HasSuffix(library, "%") {
			library = "*" + library[1:len(library)-1]
		}
		objPart = parts[1]
	default:
		return "", "", fmt.Errorf("path %q has too many components", p)
	}

	if !strings.HasSuffix(strings.ToUpper(objPart), suffix) {
		return "", "", fmt.Errorf("path %q: object must be of type %s", p, c.ObjectType)
	}
	object = objPart[:len(objPart)-len(suffix)]
	if object == "" || library == "" {
		return "", "", fmt.Errorf("path %q has an empty component", p)
	}
	return library, object, nil
}
