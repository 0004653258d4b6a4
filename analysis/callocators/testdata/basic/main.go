package main

// A miniature tagged-value runtime: allocation goes through allocVector and
// allocList, both of which call the collector; install interns symbols
// without allocating through the collector.

type value struct {
	tag  int
	attr *value
}

var symDim = install("dim")
var symClass = install("class")

var heap []*value

func gc() {
	if len(heap) > 1000 {
		heap = heap[:0]
	}
}

func install(name string) *value {
	return &value{tag: len(name)}
}

func allocVector(n int) *value {
	gc()
	v := &value{tag: n}
	heap = append(heap, v)
	return v
}

func allocList(n int) *value {
	gc()
	v := &value{tag: -n}
	heap = append(heap, v)
	return v
}

func fatal(msg string) {
	panic(msg)
}

// direct allocator call, stored then returned
func mkVector() *value {
	x := allocVector(3)
	return x
}

// origin propagation through a copy
func mkAlias() *value {
	y := allocVector(4)
	x := y
	return x
}

// immediate return of an allocator result
func mkDirect() *value {
	return allocList(2)
}

// calls the collector but returns its argument
func protect(x *value) *value {
	gc()
	return x
}

// guarded branch returning two different allocators
func mkEither(g int) *value {
	if g == 0 {
		return allocVector(1)
	}
	return allocList(1)
}

// attribute lookup guarded by a symbol comparison
func getAttrib(x *value, name *value) *value {
	if name == symDim {
		return x.attr
	}
	return allocVector(0)
}

// the failing branch never returns
func checked(g int) *value {
	if g == 0 {
		fatal("invalid argument")
	}
	return allocVector(5)
}

// wraps another wrapper
func mkWrap() *value {
	v := mkVector()
	return v
}

// mutually wrapping pair
func pingAlloc(n int) *value {
	if n == 0 {
		return allocVector(9)
	}
	v := pongAlloc(n - 1)
	return v
}

func pongAlloc(n int) *value {
	v := pingAlloc(n)
	return v
}

// declared but not defined
func external(n int) *value

func main() {
	v := mkVector()
	v = mkAlias()
	v = mkDirect()
	v = protect(v)
	v = mkEither(1)
	v = getAttrib(v, symDim)
	v = getAttrib(v, symDim)
	v = getAttrib(v, symClass)
	v = checked(2)
	v = mkWrap()
	v = pingAlloc(3)
	v = external(1)
	_ = v
}
