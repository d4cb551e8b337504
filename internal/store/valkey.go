// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/valkey-io/valkey-go"

	"github.com/cloudwego/captioner/internal/pipeline"
)

const valkeyKeyPrefix = "captioner:state:"

// ValkeyStore keeps state documents in Valkey, so several hosts working on a
// shared folder see the same progress. A SET replaces a value atomically.
type ValkeyStore struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkeyClient connects to addr and checks the connection with a PING.
func NewValkeyClient(addr, password string) (valkey.Client, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{addr},
	}
	if password != "" {
		opts.Password = password
	}
	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "create valkey client")
	}
	resp := client.Do(context.Background(), client.B().Ping().Build())
	if err := resp.Error(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping valkey")
	}
	return client, nil
}

// NewValkeyStore wraps client. A zero ttl keeps documents forever.
func NewValkeyStore(client valkey.Client, ttl time.Duration) *ValkeyStore {
	return &ValkeyStore{client: client, ttl: ttl}
}

func (s *ValkeyStore) Load(ctx context.Context, key string) (*pipeline.PipelineState, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(valkeyKeyPrefix+key).Build())
	data, err := resp.AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "load state %s", key)
	}
	return pipeline.UnmarshalState(data)
}

func (s *ValkeyStore) Save(ctx context.Context, key string, st *pipeline.PipelineState) error {
	st.UpdatedAt = time.Now()
	raw, err := pipeline.MarshalState(st)
	if err != nil {
		return err
	}
	var cmd valkey.Completed
	if s.ttl > 0 {
		cmd = s.client.B().Set().Key(valkeyKeyPrefix + key).Value(string(raw)).Ex(s.ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(valkeyKeyPrefix + key).Value(string(raw)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrapf(err, "save state %s", key)
	}
	return nil
}

func (s *ValkeyStore) Close() {
	s.client.Close()
}
