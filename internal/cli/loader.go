package cli

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/calyptra/flume/topic"
	"github.com/calyptra/flume/workflow"
)

//go:embed schema.cue
var schemaCUE string

// Definition is a workflow definition file after schema validation.
type Definition struct {
	Name     string     `yaml:"name" json:"name"`
	MaxSteps int        `yaml:"max_steps" json:"max_steps,omitempty"`
	Topics   []TopicDef `yaml:"topics" json:"topics,omitempty"`
	Nodes    []NodeDef  `yaml:"nodes" json:"nodes"`
}

// TopicDef declares a named topic. The entry and output topics are
// implicit and never declared; a definition only lists interior topics.
type TopicDef struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind,omitempty"`
}

// NodeDef declares one node with a built-in handler.
type NodeDef struct {
	Name        string   `yaml:"name" json:"name"`
	Kind        string   `yaml:"kind" json:"kind,omitempty"`
	Handler     string   `yaml:"handler" json:"handler"`
	Prefix      string   `yaml:"prefix" json:"prefix,omitempty"`
	Reply       string   `yaml:"reply" json:"reply,omitempty"`
	Subscribes  []string `yaml:"subscribes" json:"subscribes"`
	RequiresAll bool     `yaml:"requires_all" json:"requires_all,omitempty"`
	Publishes   []string `yaml:"publishes" json:"publishes,omitempty"`
}

// DefError is a schema violation in a definition file.
type DefError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e DefError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// LoadDefinition reads a YAML definition file and validates it against
// the embedded CUE schema. On schema violations every error is returned,
// not just the first.
func LoadDefinition(path string) (*Definition, []DefError) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, []DefError{{Message: fmt.Sprintf("read definition: %v", err)}}
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, []DefError{{Message: fmt.Sprintf("parse YAML: %v", err)}}
	}

	if errs := validateAgainstSchema(generic); len(errs) > 0 {
		return nil, errs
	}

	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, []DefError{{Message: fmt.Sprintf("decode definition: %v", err)}}
	}
	return &def, nil
}

func validateAgainstSchema(generic map[string]any) []DefError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return []DefError{{Message: fmt.Sprintf("compile schema: %v", err)}}
	}

	data := ctx.Encode(generic)
	if err := data.Err(); err != nil {
		return []DefError{{Message: fmt.Sprintf("encode definition: %v", err)}}
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var out []DefError
		for _, e := range errors.Errors(err) {
			field := ""
			if p := e.Path(); len(p) > 0 {
				field = joinPath(p)
			}
			out = append(out, DefError{Field: field, Message: e.Error()})
		}
		return out
	}
	return nil
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// Build constructs a runnable workflow from the definition. The entry and
// output topics always exist; interior topics come from the topics list
// or are created on first reference with default kind.
func (d *Definition) Build(cfg workflow.Config) (*workflow.Workflow, error) {
	topics := map[string]*topic.Topic{
		topic.Entry:  topic.NewEntry(),
		topic.Output: topic.NewOutput(),
	}
	for _, td := range d.Topics {
		switch td.Kind {
		case "human_input":
			topics[td.Name] = topic.NewHumanInput(td.Name)
		default:
			topics[td.Name] = topic.New(td.Name)
		}
	}
	lookup := func(name string) *topic.Topic {
		if t, ok := topics[name]; ok {
			return t
		}
		t := topic.New(name)
		topics[name] = t
		return t
	}

	cfg.Name = d.Name
	cfg.MaxSteps = d.MaxSteps
	for _, nd := range d.Nodes {
		handler, err := builtinHandler(nd)
		if err != nil {
			return nil, err
		}

		var expr topic.Expression
		for i, name := range nd.Subscribes {
			sub := topic.Sub(lookup(name))
			if i == 0 {
				expr = sub
			} else if nd.RequiresAll {
				expr = topic.And(expr, sub)
			} else {
				expr = topic.Or(expr, sub)
			}
		}

		publishTo := make([]*topic.Topic, 0, len(nd.Publishes))
		for _, name := range nd.Publishes {
			publishTo = append(publishTo, lookup(name))
		}

		cfg.Nodes = append(cfg.Nodes, workflow.NodeConfig{
			Name:       nd.Name,
			Kind:       nodeKind(nd.Kind),
			Subscribes: []topic.Expression{expr},
			PublishTo:  publishTo,
			Handler:    handler,
		})
	}

	return workflow.New(cfg)
}

func nodeKind(kind string) workflow.NodeKind {
	switch kind {
	case "function_call":
		return workflow.KindFunctionCall
	case "stream":
		return workflow.KindStream
	default:
		return workflow.KindGenerate
	}
}
