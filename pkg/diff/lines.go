package diff

import "strings"

// LineType classifies a line in an edit script.
type LineType int

const (
	Equal  LineType = iota // Line is in both inputs.
	Insert                 // Line is only in the newer input.
	Delete                 // Line is only in the older input.
)

// Line is one line of an edit script.
type Line struct {
	Type    LineType
	Content string
}

// Lines computes a line-level diff of a and b.
func Lines(a, b []byte) []Line {
	return myers(splitLines(string(a)), splitLines(string(b)))
}

// splitLines splits s into lines without a trailing empty element.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// myers returns the shortest edit script turning a into b. It runs in
// O((N+M)*D) time for inputs of N and M lines and an edit distance of D.
func myers(a, b []string) []Line {
	n, m := len(a), len(b)
	switch {
	case n == 0 && m == 0:
		return nil
	case n == 0:
		return uniform(Insert, b)
	case m == 0:
		return uniform(Delete, a)
	}

	offset := n + m
	v := make([]int, 2*offset+1)
	// trace[d] is v after edit distance d.
	var trace [][]int
	for d := 0; d <= offset; d++ {
		for k := -d; k <= d; k += 2 {
			i := k + offset
			var x int
			if k == -d || (k != d && v[i-1] < v[i+1]) {
				x = v[i+1]
			} else {
				x = v[i-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[i] = x
			if x >= n && y >= m {
				trace = append(trace, append([]int(nil), v...))
				return backtrack(trace, a, b)
			}
		}
		trace = append(trace, append([]int(nil), v...))
	}
	return nil
}

func uniform(t LineType, lines []string) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{Type: t, Content: l}
	}
	return out
}

func backtrack(trace [][]int, a, b []string) []Line {
	offset := len(a) + len(b)
	x, y := len(a), len(b)
	var out []Line

	for d := len(trace) - 1; d > 0; d-- {
		prev := trace[d-1]
		k := x - y
		var prevK int
		if k == -d || (k != d && prev[k-1+offset] < prev[k+1+offset]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := prev[prevK+offset]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			out = append(out, Line{Type: Equal, Content: a[x]})
		}
		if prevK == k-1 {
			x--
			out = append(out, Line{Type: Delete, Content: a[x]})
		} else {
			y--
			out = append(out, Line{Type: Insert, Content: b[y]})
		}
	}
	for x > 0 && y > 0 {
		x--
		y--
		out = append(out, Line{Type: Equal, Content: a[x]})
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
