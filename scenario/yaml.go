package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"clonetest/core/types"
)

// Loader decodes YAML scenario definitions. Bytecode is referenced by name
// from Codes or by a file path relative to the definition.
//
//	name: upgrade dex adapter
//	steps:
//	  - upload: {code: adapter-v2, save: v2}
//	  - rebind: {contract: juno1dexadapter, code: $v2, msg: {}}
//	  - execute:
//	      sender: juno1alice
//	      contract: juno1dexadapter
//	      msg: {execute_action: {action: {swap: {}}}}
//	      funds: [{denom: ujuno, amount: "100"}]
//	assert:
//	  - balance: {address: juno1treasury, denom: ujuno, amount: "1"}
type Loader struct {
	Codes map[string][]byte
	dir   string
}

type fileScenario struct {
	Name   string       `yaml:"name"`
	Steps  []fileStep   `yaml:"steps"`
	Assert []fileAssert `yaml:"assert"`
}

type fileStep struct {
	Upload *struct {
		Code string `yaml:"code"`
		File string `yaml:"file"`
		Save string `yaml:"save"`
	} `yaml:"upload"`
	Instantiate *struct {
		Sender string      `yaml:"sender"`
		Code   string      `yaml:"code"`
		Msg    interface{} `yaml:"msg"`
		Funds  types.Coins `yaml:"funds"`
		Label  string      `yaml:"label"`
		Admin  string      `yaml:"admin"`
		Save   string      `yaml:"save"`
	} `yaml:"instantiate"`
	Rebind *struct {
		Contract string      `yaml:"contract"`
		Code     string      `yaml:"code"`
		Msg      interface{} `yaml:"msg"`
	} `yaml:"rebind"`
	Migrate *struct {
		Sender    string      `yaml:"sender"`
		Contract  string      `yaml:"contract"`
		Code      string      `yaml:"code"`
		Msg       interface{} `yaml:"msg"`
		ExpectErr string      `yaml:"expect_error"`
	} `yaml:"migrate"`
	Execute *struct {
		Sender    string      `yaml:"sender"`
		Contract  string      `yaml:"contract"`
		Msg       interface{} `yaml:"msg"`
		Funds     types.Coins `yaml:"funds"`
		ExpectErr string      `yaml:"expect_error"`
		Save      string      `yaml:"save"`
	} `yaml:"execute"`
	Query *struct {
		Contract string      `yaml:"contract"`
		Msg      interface{} `yaml:"msg"`
		Path     string      `yaml:"path"`
		Save     string      `yaml:"save"`
	} `yaml:"query"`
	Send *struct {
		From   string      `yaml:"from"`
		To     string      `yaml:"to"`
		Amount types.Coins `yaml:"amount"`
	} `yaml:"send"`
}

type fileAssert struct {
	Balance *struct {
		Address string `yaml:"address"`
		Denom   string `yaml:"denom"`
		Amount  string `yaml:"amount"`
	} `yaml:"balance"`
	Query *struct {
		Contract string      `yaml:"contract"`
		Msg      interface{} `yaml:"msg"`
		Path     string      `yaml:"path"`
		Equals   string      `yaml:"equals"`
	} `yaml:"query"`
	Event *struct {
		Type     string `yaml:"type"`
		Key      string `yaml:"key"`
		Value    string `yaml:"value"`
		Contract string `yaml:"contract"`
		Absent   bool   `yaml:"absent"`
	} `yaml:"event"`
}

// LoadFile decodes every scenario document in the file at path.
func (l Loader) LoadFile(path string) ([]Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l.dir = filepath.Dir(path)
	scenarios, err := l.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// Decode reads a stream of YAML documents, one scenario each.
func (l Loader) Decode(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out []Scenario
	for {
		var doc fileScenario
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		sc, err := l.convert(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if len(out) == 0 {
		return nil, errors.New("no scenarios defined")
	}
	return out, nil
}

func (l Loader) convert(doc fileScenario) (Scenario, error) {
	sc := Scenario{Name: doc.Name}
	for i, fs := range doc.Steps {
		step, err := l.step(fs)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %q step %d: %w", doc.Name, i, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	for i, fa := range doc.Assert {
		a, err := assertion(fa)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %q assertion %d: %w", doc.Name, i, err)
		}
		sc.Assertions = append(sc.Assertions, a)
	}
	return sc, sc.Validate()
}

func (l Loader) step(fs fileStep) (Step, error) {
	var steps []Step
	if s := fs.Upload; s != nil {
		code, err := l.code(s.Code, s.File)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Upload{Code: code, Save: s.Save})
	}
	if s := fs.Instantiate; s != nil {
		msg, err := toJSON(s.Msg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Instantiate{Sender: s.Sender, Code: s.Code, Msg: msg, Funds: s.Funds, Label: s.Label, Admin: s.Admin, Save: s.Save})
	}
	if s := fs.Rebind; s != nil {
		msg, err := toJSON(s.Msg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Rebind{Contract: s.Contract, Code: s.Code, Msg: msg})
	}
	if s := fs.Migrate; s != nil {
		msg, err := toJSON(s.Msg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Migrate{Sender: s.Sender, Contract: s.Contract, Code: s.Code, Msg: msg, ExpectErr: s.ExpectErr})
	}
	if s := fs.Execute; s != nil {
		msg, err := toJSON(s.Msg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Execute{Sender: s.Sender, Contract: s.Contract, Msg: msg, Funds: s.Funds, ExpectErr: s.ExpectErr, Save: s.Save})
	}
	if s := fs.Query; s != nil {
		msg, err := toJSON(s.Msg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Query{Contract: s.Contract, Msg: msg, Path: s.Path, Save: s.Save})
	}
	if s := fs.Send; s != nil {
		steps = append(steps, Send{From: s.From, To: s.To, Amount: s.Amount})
	}
	if len(steps) != 1 {
		return nil, fmt.Errorf("a step must have exactly one kind, got %d", len(steps))
	}
	return steps[0], nil
}

func assertion(fa fileAssert) (Assertion, error) {
	var out []Assertion
	if a := fa.Balance; a != nil {
		out = append(out, AssertBalance{Address: a.Address, Denom: a.Denom, Amount: a.Amount})
	}
	if a := fa.Query; a != nil {
		msg, err := toJSON(a.Msg)
		if err != nil {
			return nil, err
		}
		out = append(out, AssertQuery{Contract: a.Contract, Msg: msg, Path: a.Path, Equals: a.Equals})
	}
	if a := fa.Event; a != nil {
		out = append(out, AssertEvent{Type: a.Type, Key: a.Key, Value: a.Value, Contract: a.Contract, Absent: a.Absent})
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("an assertion must have exactly one kind, got %d", len(out))
	}
	return out[0], nil
}

func (l Loader) code(name, file string) ([]byte, error) {
	switch {
	case name != "" && file != "":
		return nil, errors.New("upload takes either code or file")
	case name != "":
		code, ok := l.Codes[name]
		if !ok {
			return nil, fmt.Errorf("unknown code %q", name)
		}
		return code, nil
	case file != "":
		if !filepath.IsAbs(file) && l.dir != "" {
			file = filepath.Join(l.dir, file)
		}
		return os.ReadFile(file)
	default:
		return nil, errors.New("upload needs code or file")
	}
}

// toJSON converts a decoded YAML value into a JSON message. A missing value
// yields a nil message.
func toJSON(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("message is not representable as JSON: %w", err)
	}
	return raw, nil
}
