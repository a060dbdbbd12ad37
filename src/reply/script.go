package reply

import (
	"errors"
	"time"

	"github.com/robertkrimen/otto"
)

const scriptTimeout = 100 * time.Millisecond

var errScriptTimeout = errors.New("script timeout")

// evalScript 执行高级规则的 JS 条件，可用变量 user、content、matched。
func evalScript(script, user, content, matched string) (ok bool, err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	timer := time.AfterFunc(scriptTimeout, func() {
		vm.Interrupt <- func() { panic(errScriptTimeout) }
	})
	defer timer.Stop()
	defer func() {
		if r := recover(); r != nil {
			if r != errScriptTimeout {
				panic(r)
			}
			ok, err = false, errScriptTimeout
		}
	}()

	for name, value := range map[string]string{"user": user, "content": content, "matched": matched} {
		if err = vm.Set(name, value); err != nil {
			return false, err
		}
	}
	v, err := vm.Run(script)
	if err != nil {
		return false, err
	}
	return v.ToBoolean()
}
