//go:build linux

// Package parser loads experiment plan documents. It is the external
// collaborator the core delegates file handling to: YAML loading, include
// expansion, schema validation and the mapping from documents to entity
// trees all live here; the core never parses configuration itself.
package parser

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ja7ad/mergen/pkg/controller"
	"github.com/ja7ad/mergen/pkg/core"
	"github.com/ja7ad/mergen/pkg/entity"
)

//go:embed schema.json
var schemaJSON []byte

// includePrefix marks a scalar value to be replaced by the parsed content of
// another YAML file, resolved relative to the including document.
const includePrefix = "include:"

var cgroupNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Parser loads one plan file or a directory of *.yaml plan files and parses
// them into entity trees, applying the context's plan/suite/case filters.
type Parser struct {
	ctx    *core.RunContext
	plans  []*yaml.Node
	schema *jsonschema.Schema
}

func New(ctx *core.RunContext) *Parser {
	return &Parser{ctx: ctx}
}

// Load reads and validates every plan document under the context plan path.
func (p *Parser) Load() error {
	if err := p.compileSchema(); err != nil {
		return err
	}

	info, err := os.Stat(p.ctx.PlanPath)
	if err != nil {
		return fmt.Errorf("%w: plan path %s does not exist", core.ErrPrecondition, p.ctx.PlanPath)
	}

	files := []string{p.ctx.PlanPath}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(p.ctx.PlanPath, "*.yaml"))
		if err != nil {
			return fmt.Errorf("%w: glob plan path: %v", core.ErrPrecondition, err)
		}
	}
	for _, file := range files {
		if err := p.loadFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) compileSchema() error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("%w: schema: %v", core.ErrInternal, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan.schema.json", doc); err != nil {
		return fmt.Errorf("%w: schema: %v", core.ErrInternal, err)
	}
	p.schema, err = c.Compile("plan.schema.json")
	if err != nil {
		return fmt.Errorf("%w: schema: %v", core.ErrInternal, err)
	}
	return nil
}

func (p *Parser) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", core.ErrPrecondition, path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", core.ErrConfig, path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return fmt.Errorf("%w: %s: empty document", core.ErrConfig, path)
	}
	root := doc.Content[0]
	if err := p.expandIncludes(root, filepath.Dir(path)); err != nil {
		return err
	}
	if err := p.validate(root, path); err != nil {
		return err
	}
	p.plans = append(p.plans, seqItems(mapGet(root, "plans"))...)
	return nil
}

// expandIncludes replaces every "include:<relpath>" scalar with the parsed
// content of the referenced file. Includes may nest.
func (p *Parser) expandIncludes(n *yaml.Node, dir string) error {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := p.expandIncludes(c, dir); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if !strings.HasPrefix(n.Value, includePrefix) {
			return nil
		}
		path := filepath.Join(dir, strings.TrimPrefix(n.Value, includePrefix))
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: include %s: %v", core.ErrConfig, path, err)
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: include %s: %v", core.ErrConfig, path, err)
		}
		if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
			return fmt.Errorf("%w: include %s: empty document", core.ErrConfig, path)
		}
		*n = *doc.Content[0]
		return p.expandIncludes(n, filepath.Dir(path))
	}
	return nil
}

func (p *Parser) validate(root *yaml.Node, path string) error {
	var v any
	if err := root.Decode(&v); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrConfig, path, err)
	}
	// Normalize through JSON so the validator sees canonical types.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrConfig, path, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrConfig, path, err)
	}
	if err := p.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrConfig, path, err)
	}
	return nil
}

// Parse maps the loaded documents into entity trees, honoring the filters.
func (p *Parser) Parse() ([]*entity.Plan, error) {
	var plans []*entity.Plan
	for _, n := range p.plans {
		plan, err := p.parsePlan(n)
		if err != nil {
			return nil, err
		}
		if p.ctx.FilterPlan != "" && plan.Name() != p.ctx.FilterPlan {
			continue
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (p *Parser) parsePlan(n *yaml.Node) (*entity.Plan, error) {
	plan := entity.NewPlan()
	if err := plan.SetName(str(mapGet(n, "name"))); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	if err := parseConfig(mapGet(n, "config"), plan.Config()); err != nil {
		return nil, err
	}
	if err := p.parseHooks(n, &plan.Entity); err != nil {
		return nil, err
	}
	for _, gn := range seqItems(mapGet(n, "cgroups")) {
		g, err := parseCGroup(gn)
		if err != nil {
			return nil, err
		}
		plan.AddCGroup(g)
	}
	for _, cn := range seqItems(mapGet(n, "collectors")) {
		plan.AddCollector(parseCollectorSpec(cn))
	}
	for _, sn := range seqItems(mapGet(n, "suites")) {
		suite, err := p.parseSuite(sn)
		if err != nil {
			return nil, err
		}
		if p.ctx.FilterSuite != "" && suite.Name() != p.ctx.FilterSuite {
			continue
		}
		plan.AddSuite(suite)
	}
	return plan, nil
}

func (p *Parser) parseSuite(n *yaml.Node) (*entity.Suite, error) {
	suite := entity.NewSuite()
	if err := suite.SetName(str(mapGet(n, "name"))); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	if err := parseConfig(mapGet(n, "config"), suite.Config()); err != nil {
		return nil, err
	}
	if err := p.parseHooks(n, &suite.Entity); err != nil {
		return nil, err
	}
	for _, cn := range seqItems(mapGet(n, "cases")) {
		kase, err := p.parseCase(cn)
		if err != nil {
			return nil, err
		}
		if p.ctx.FilterCase != "" && kase.Name() != p.ctx.FilterCase {
			continue
		}
		suite.AddCase(kase)
	}
	return suite, nil
}

func (p *Parser) parseCase(n *yaml.Node) (*entity.Case, error) {
	kase := entity.NewCase()
	if err := kase.SetName(str(mapGet(n, "name"))); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	if err := parseConfig(mapGet(n, "config"), kase.Config()); err != nil {
		return nil, err
	}
	if err := p.parseHooks(n, &kase.Entity); err != nil {
		return nil, err
	}
	cmds, err := parseCommands(mapGet(n, "commands"))
	if err != nil {
		return nil, err
	}
	for _, c := range cmds {
		kase.AddCommand(c)
	}
	return kase, nil
}

func (p *Parser) parseHooks(n *yaml.Node, ent *entity.Entity) error {
	pre, err := parseCommands(mapGet(n, "pre"))
	if err != nil {
		return err
	}
	for _, c := range pre {
		ent.AddPre(c)
	}
	post, err := parseCommands(mapGet(n, "post"))
	if err != nil {
		return err
	}
	for _, c := range post {
		ent.AddPost(c)
	}
	return nil
}

func parseConfig(n *yaml.Node, cfg *entity.Config) error {
	n = deref(n)
	if n == nil {
		return nil
	}
	if v := mapGet(n, "replication"); v != nil {
		r, err := strconv.Atoi(str(v))
		if err != nil || r < 1 {
			return fmt.Errorf("%w: replication must be a positive integer, got %q", core.ErrConfig, str(v))
		}
		cfg.Replication = r
	}
	if v := mapGet(n, "concurrency"); v != nil {
		cfg.Concurrency = boolVal(v)
	}
	if v := mapGet(n, "parallelism"); v != nil {
		pl, err := strconv.Atoi(str(v))
		if err != nil || pl < 1 {
			return fmt.Errorf("%w: parallelism must be a positive integer, got %q", core.ErrConfig, str(v))
		}
		cfg.Parallelism = pl
	}
	if v := mapGet(n, "iteration"); v != nil {
		switch str(v) {
		case "product":
			cfg.Iteration = entity.IterationProduct
		case "zip":
			cfg.Iteration = entity.IterationZip
		default:
			return fmt.Errorf("%w: iteration must be product or zip, got %q", core.ErrConfig, str(v))
		}
	}
	for _, e := range mapEntries(mapGet(n, "params")) {
		cfg.Params[e.key] = str(e.val)
	}
	for _, e := range mapEntries(mapGet(n, "iters")) {
		axis := entity.Axis{Name: e.key}
		for _, item := range seqItems(e.val) {
			axis.Values = append(axis.Values, str(item))
		}
		cfg.Iters = append(cfg.Iters, axis)
	}
	return nil
}

func parseCommands(n *yaml.Node) ([]*entity.Command, error) {
	var cmds []*entity.Command
	for i, cn := range seqItems(n) {
		c := entity.NewCommand()
		name := str(mapGet(cn, "name"))
		if name == "" {
			name = fmt.Sprintf("command%03d", i+1)
		}
		if err := c.SetName(name); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
		}
		c.Cmd = str(mapGet(cn, "cmd"))
		if c.Cmd == "" {
			return nil, fmt.Errorf("%w: command %s has no cmd", core.ErrConfig, name)
		}
		c.BecomeCmd = str(mapGet(cn, "become_cmd"))
		c.Shell = boolVal(mapGet(cn, "shell"))
		c.ShellExecutable = str(mapGet(cn, "shell_executable"))
		if v := mapGet(cn, "timeout"); v != nil {
			sec, err := strconv.ParseFloat(str(v), 64)
			if err != nil || sec <= 0 {
				return nil, fmt.Errorf("%w: command %s: invalid timeout %q", core.ErrConfig, name, str(v))
			}
			c.Timeout = time.Duration(sec * float64(time.Second))
		}
		if v := mapGet(cn, "run_time"); v != nil {
			rt, err := strconv.Atoi(str(v))
			if err != nil || rt < 0 {
				return nil, fmt.Errorf("%w: command %s: invalid run_time %q", core.ErrConfig, name, str(v))
			}
			c.RunTime = rt
		}
		c.PipeStdout = str(mapGet(cn, "pipe_stdout"))
		c.PipeStderr = str(mapGet(cn, "pipe_stderr"))
		c.DebugStdout = boolVal(mapGet(cn, "debug_stdout"))
		c.DebugStderr = boolVal(mapGet(cn, "debug_stderr"))
		if v := mapGet(cn, "raise_error"); v != nil {
			c.RaiseError = boolVal(v)
		}
		for _, g := range seqItems(mapGet(cn, "cgroups")) {
			c.CGroups = append(c.CGroups, str(g))
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

func parseCGroup(n *yaml.Node) (*controller.Group, error) {
	name := str(mapGet(n, "name"))
	if !cgroupNameRE.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid cgroup name %q", core.ErrConfig, name)
	}
	g := controller.NewGroup(name)
	g.SetBecomeCmd(str(mapGet(n, "become_cmd")))
	for _, cn := range seqItems(mapGet(n, "controllers")) {
		ctrl, err := controller.New(str(mapGet(cn, "name")))
		if err != nil {
			return nil, fmt.Errorf("%w: cgroup %s: %v", core.ErrConfig, name, err)
		}
		for _, e := range mapEntries(mapGet(cn, "limits")) {
			ctrl.AddLimit(e.key, str(e.val))
		}
		if sf := mapGet(cn, "stat_files"); sf != nil {
			var files []string
			for _, f := range seqItems(sf) {
				files = append(files, str(f))
			}
			ctrl.SetStatFiles(files)
		}
		g.AddController(ctrl)
	}
	return g, nil
}

func parseCollectorSpec(n *yaml.Node) entity.CollectorSpec {
	spec := entity.CollectorSpec{
		Engine:          str(mapGet(n, "engine")),
		Name:            str(mapGet(n, "name")),
		Cmd:             str(mapGet(n, "cmd")),
		BecomeCmd:       str(mapGet(n, "become_cmd")),
		Shell:           boolVal(mapGet(n, "shell")),
		ShellExecutable: str(mapGet(n, "shell_executable")),
		PipeStdout:      str(mapGet(n, "pipe_stdout")),
		PipeStderr:      str(mapGet(n, "pipe_stderr")),
	}
	if spec.Name == "" {
		spec.Name = spec.Engine
	}
	for _, c := range seqItems(mapGet(n, "custom")) {
		spec.Custom = append(spec.Custom, str(c))
	}
	for _, ev := range seqItems(mapGet(n, "events")) {
		spec.Events = append(spec.Events, entity.EventSpec{
			CGroup: str(mapGet(ev, "cgroup")),
			Name:   str(mapGet(ev, "name")),
		})
	}
	if v := mapGet(n, "ramp"); v != nil {
		spec.Ramp, _ = strconv.ParseFloat(str(v), 64)
	}
	if v := mapGet(n, "interval"); v != nil {
		spec.Interval, _ = strconv.ParseFloat(str(v), 64)
	}
	return spec
}

//
// yaml.Node helpers
//

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func mapGet(n *yaml.Node, key string) *yaml.Node {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return deref(n.Content[i+1])
		}
	}
	return nil
}

type mapEntry struct {
	key string
	val *yaml.Node
}

func mapEntries(n *yaml.Node) []mapEntry {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	entries := make([]mapEntry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		entries = append(entries, mapEntry{key: n.Content[i].Value, val: deref(n.Content[i+1])})
	}
	return entries
}

func seqItems(n *yaml.Node) []*yaml.Node {
	n = deref(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	items := make([]*yaml.Node, 0, len(n.Content))
	for _, c := range n.Content {
		items = append(items, deref(c))
	}
	return items
}

func str(n *yaml.Node) string {
	if n == nil {
		return ""
	}
	return n.Value
}

func boolVal(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	b, _ := strconv.ParseBool(n.Value)
	return b
}
