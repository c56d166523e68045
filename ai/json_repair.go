// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import "strings"

const fenceMarker = "```"

// stripFences removes a surrounding markdown code fence. A leading fence
// line (including any language tag) and a trailing fence line are dropped.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, fenceMarker) {
		_, rest, found := strings.Cut(s, "\n")
		if !found {
			return ""
		}
		s = rest
	}
	if strings.HasSuffix(s, fenceMarker) {
		if i := strings.LastIndex(s, "\n"); i >= 0 {
			s = s[:i]
		} else {
			s = ""
		}
	}
	return strings.TrimSpace(s)
}

// repairJSON fixes object keys whose opening quote the model dropped,
// e.g. `{location": "Cobh"}` becomes `{"location": "Cobh"}`.
func repairJSON(s string) string {
	src := []rune(s)
	fixed := make([]rune, 0, len(src)+16)

	inString := false
	for i := 0; i < len(src); i++ {
		ch := src[i]
		fixed = append(fixed, ch)

		if ch == '"' && !escaped(src, i) {
			inString = !inString
			continue
		}
		if inString || (ch != '{' && ch != ',') {
			continue
		}

		j := i + 1
		for j < len(src) && isSpace(src[j]) {
			j++
		}
		k := j
		for k < len(src) && (isLetter(src[k]) || src[k] == '_') {
			k++
		}
		if k == j || k+1 >= len(src) || src[k] != '"' || src[k+1] != ':' {
			continue
		}
		// Copy whitespace and key, insert the missing quote before the key.
		fixed = append(fixed, src[i+1:j]...)
		fixed = append(fixed, '"')
		fixed = append(fixed, src[j:k+1]...)
		i = k
	}

	return string(fixed)
}

func escaped(src []rune, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && src[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
