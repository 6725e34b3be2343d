package compare

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/pprof/profile"
	"google.golang.org/protobuf/proto"

	"github.com/perfgo/tpdiff/protoset"
)

// PostProcessor renders a decoded binary proto query result.
type PostProcessor func(set *protoset.Set, m proto.Message) (string, error)

// PostProcessors maps the post_processing names of blueprints to their
// implementation.
var PostProcessors = map[string]PostProcessor{
	"":      TextPostProcessor,
	"text":  TextPostProcessor,
	"pprof": ProfilePostProcessor,
}

// TextPostProcessor renders m in canonical text format.
func TextPostProcessor(set *protoset.Set, m proto.Message) (string, error) {
	return set.Format(m), nil
}

// ProfilePostProcessor renders a pprof Profile message with PrintProfile.
func ProfilePostProcessor(_ *protoset.Set, m proto.Message) (string, error) {
	data, err := protoset.Marshal(m)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return PrintProfile(&profile.Profile{}), nil
	}
	p, err := profile.ParseData(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse profile: %w", err)
	}
	return PrintProfile(p), nil
}

var uniqSuffix = regexp.MustCompile(`\.__uniq\.\d+`)

// PrintProfile renders every sample of p with its values and symbolized
// stack. Samples are sorted so the output does not depend on their order in
// the profile.
func PrintProfile(p *profile.Profile) string {
	samples := make([]string, 0, len(p.Sample))
	for _, s := range p.Sample {
		values := make([]string, 0, len(s.Value))
		for _, v := range s.Value {
			values = append(values, fmt.Sprint(v))
		}

		var stack []string
		for _, loc := range s.Location {
			if len(loc.Line) == 0 {
				stack = append(stack, fmt.Sprintf("(%#x)", loc.Address))
				continue
			}
			for _, line := range loc.Line {
				name := ""
				if line.Function != nil {
					name = uniqSuffix.ReplaceAllString(line.Function.Name, "")
				}
				stack = append(stack, fmt.Sprintf("%s (%#x)", name, loc.Address))
			}
		}

		samples = append(samples, fmt.Sprintf("Sample:\nValues: %s\nStack:\n%s",
			strings.Join(values, ", "), strings.Join(stack, "\n")))
	}
	sort.Strings(samples)
	return strings.Join(samples, "\n\n") + "\n"
}
