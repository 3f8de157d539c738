// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package consensus

// Custom sorter for ballot slice.
type BallotSlice []*Ballot

// Return the length of underlying ballot slice.
func (bs BallotSlice) Len() int {
	return len(bs)
}

// Sort ballots in descending order by comparing
// counter first then value.
func (bs BallotSlice) Less(i, j int) bool {
	return compareBallots(bs[i], bs[j]) > 0
}

func (bs BallotSlice) Swap(i, j int) {
	bs[i], bs[j] = bs[j], bs[i]
}
