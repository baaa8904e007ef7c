// Copyright 2026 The Soulvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package soulvisor deploys and supervises "projects": independently
// deployable units, each optionally backed by a git repository, that run
// as child processes of a single supervisor.
//
// Three pieces do the real work.  A Store owns the persisted collection
// of Project records (a single JSON document).  A Synchronizer refreshes
// a project's working tree from its repository and reads the run
// configuration from the ".soul" descriptor at the root of that tree.
// A Supervisor keeps the in-memory registry of running processes, with
// a small log buffer and uptime for each.
//
// A Host ties the three together and is what a front end (the REST
// handler in package rest, a chat bot, a CLI) talks to.  Runtime process
// state is deliberately not persisted; on boot, Host.Reconcile starts
// every project whose record has AutoStart set.
package soulvisor
