package heuristics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// DetectorImageTypo: ImagePullBackOff/ErrImagePull → misspelled image reference → fix-image-reference
const DetectorImageTypo = "H001"

var ImageTypoDetector = Detector{
	ID:          DetectorImageTypo,
	Name:        "Image Reference Typo",
	Description: "Image pull fails because the declared image name or tag has a known misspelling",
	Reasons:     []string{"ImagePullBackOff", "ErrImagePull"},
	Detect:      detectImageTypo,
}

type typo struct{ wrong, right string }

// Ordered so corrections are deterministic.
var knownTypos = []typo{
	{"apline", "alpine"},
	{"latst", "latest"},
	{"lastest", "latest"},
	{"ubunut", "ubuntu"},
	{"ngnix", "nginx"},
	{"postgress", "postgres"},
	{"rediss", "redis"},
}

var imageLine = regexp.MustCompile(`(?m)^\s*Image:\s+(\S+)`)

func detectImageTypo(_ remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Step, bool) {
	for _, m := range imageLine.FindAllStringSubmatch(dctx.Description, -1) {
		original := m[1]
		corrected, ok := CorrectImage(original)
		if !ok {
			continue
		}
		return remediation.Step{
			Action:        remediation.FixImage{NewImage: corrected},
			Justification: fmt.Sprintf("Detected typo in image name: '%s' should be '%s'", original, corrected),
		}, true
	}
	return remediation.Step{}, false
}

// CorrectImage fixes a known misspelling in the repository name first, then the tag.
func CorrectImage(image string) (string, bool) {
	name, tag := image, ""
	if i := strings.LastIndex(image, ":"); i > strings.LastIndex(image, "/") {
		name, tag = image[:i], image[i+1:]
	}
	join := func(n, t string) string {
		if t == "" {
			return n
		}
		return n + ":" + t
	}
	for _, ty := range knownTypos {
		if strings.Contains(strings.ToLower(name), ty.wrong) {
			return join(strings.ReplaceAll(strings.ToLower(name), ty.wrong, ty.right), tag), true
		}
	}
	for _, ty := range knownTypos {
		if strings.Contains(strings.ToLower(tag), ty.wrong) {
			return join(name, strings.ReplaceAll(strings.ToLower(tag), ty.wrong, ty.right)), true
		}
	}
	return "", false
}
