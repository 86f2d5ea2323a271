/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package governor

import (
	"strconv"
	"strings"

	"github.com/sergelogvinov/phantom-governor/pkg/utils/sysattr"
)

const (
	// AttributeSamplingRate is the read-write sampling period in microseconds.
	AttributeSamplingRate = "sampling_rate"
	// AttributeCoreTable lists the core numbers from the configured maximum down to 1.
	AttributeCoreTable = "cpucore_table"
)

func (g *Governor) attributeList() []sysattr.Attribute {
	return []sysattr.Attribute{
		{
			Name:  AttributeSamplingRate,
			Show:  g.showSamplingRate,
			Store: g.storeSamplingRate,
		},
		{
			Name: AttributeCoreTable,
			Show: g.showCoreTable,
		},
	}
}

func (g *Governor) showSamplingRate() string {
	return strconv.FormatUint(uint64(g.tunables.SamplingRate()), 10) + "\n"
}

func (g *Governor) storeSamplingRate(value string) error {
	rate, err := ParseSamplingRate(value)
	if err != nil {
		return err
	}

	g.SetSamplingRate(rate)

	return nil
}

func (g *Governor) showCoreTable() string {
	var b strings.Builder
	for i := g.maxCPUs; i > 0; i-- {
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(' ')
	}

	b.WriteByte('\n')

	return b.String()
}
