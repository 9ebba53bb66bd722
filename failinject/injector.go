/*
 *  Copyright 2022 Square Inc.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package failinject

import (
	"fmt"
	"sync"

	"github.com/squareup/ksession/common"
	"github.com/squareup/ksession/errors"
)

// Fail points checked by the fake broker
const (
	FakeProduce = "fake.produce"
	FakeDeliver = "fake.deliver"
	FakeFetch   = "fake.fetch"
	FakeTopic   = "fake.topic"
)

func NewInjector() Injector {
	return &defaultInjector{failpoints: make(map[string]*defaultFailpoint)}
}

type Injector interface {
	RegisterFailpoint(name string) (Failpoint, error)
	GetFailpoint(name string) Failpoint
	Start() error
	Stop() error
}

type Failpoint interface {
	CheckFail() error
	SetFailAction(action FailAction)
	Deactivate()
}

type FailAction func() error

// FailWith returns a FailAction which always fails with err.
func FailWith(err error) FailAction {
	return func() error {
		return err
	}
}

// FailTimes returns a FailAction which fails with err for the first n checks only.
func FailTimes(n int, err error) FailAction {
	var lock sync.Mutex
	remaining := n
	return func() error {
		lock.Lock()
		defer lock.Unlock()
		if remaining <= 0 {
			return nil
		}
		remaining--
		return err
	}
}

type defaultInjector struct {
	failpoints map[string]*defaultFailpoint
	lock       sync.Mutex
}

type defaultFailpoint struct {
	name       string
	lock       sync.Mutex
	active     common.AtomicBool
	failAction FailAction
}

func (i *defaultInjector) RegisterFailpoint(name string) (Failpoint, error) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if _, ok := i.failpoints[name]; ok {
		return nil, errors.Errorf("failpoint %s already registered", name)
	}
	fp := &defaultFailpoint{
		name: name,
	}
	i.failpoints[name] = fp
	return fp, nil
}

func (i *defaultInjector) GetFailpoint(name string) Failpoint {
	i.lock.Lock()
	defer i.lock.Unlock()
	fp, ok := i.failpoints[name]
	if !ok {
		panic(fmt.Sprintf("no failpoint registered with name %s", name))
	}
	return fp
}

func (f *defaultFailpoint) CheckFail() error {
	if !f.active.Get() {
		return nil
	}
	f.lock.Lock()
	action := f.failAction
	f.lock.Unlock()
	if action == nil {
		return errors.Errorf("no fail action specfied for failpoint %s", f.name)
	}
	return action()
}

func (f *defaultFailpoint) SetFailAction(action FailAction) {
	f.lock.Lock()
	f.failAction = action
	f.lock.Unlock()
	f.active.Set(true)
}

func (f *defaultFailpoint) Deactivate() {
	f.active.Set(false)
	f.lock.Lock()
	f.failAction = nil
	f.lock.Unlock()
}

func (i *defaultInjector) Start() error {
	return i.registerFailpoints()
}

func (i *defaultInjector) Stop() error {
	return nil
}

func (i *defaultInjector) registerFailpoints() error {
	for _, name := range []string{FakeProduce, FakeDeliver, FakeFetch, FakeTopic} {
		if _, err := i.RegisterFailpoint(name); err != nil {
			return err
		}
	}
	return nil
}
