// Package gst provides a GStreamer-style multimedia framework in Go: refcounted
// buffers and events, pads with probes, elements with a state machine, bins,
// pipelines, clocks, tasks and plugin registration.
//
// Key pieces include:
//   - MiniObject and the typed objects built on it (Buffer, BufferList, Caps,
//     Event, Query, Message, Sample, TagList, Toc, Context)
//   - Pad linking, chain/event/query dispatch and pad probes
//   - Element, Bin and Pipeline with asynchronous state changes and a Bus
//   - Clock, Task and TaskPool, BufferPool and Promise
//   - Registry, static and native plugins, element factories and tracers
//
// # Ownership
//
// A *Buffer (or *Caps, *Event...) is a shared handle. Mutators live on the
// matching *BufferMut, obtained with GetMut when the handle is the only reference
// or MakeWritable, which copies when it is not. Handles are released with Unref.
//
//	buf := gst.NewBufferWithSize(1024)
//	buf.SetPTS(0)
//	ret := srcPad.Push(buf.Buffer) // Push takes the reference
//
// # Dataflow
//
//	src pad --Push--> probes --> peer chain function --> element --> src pad ...
//
// Downstream serialized events travel with buffers under the stream lock; sticky
// events are stored on pads and replayed to new peers before data.
//
// # Native Plugins
//
// Directories listed in GST_PLUGIN_PATH are scanned for shared libraries
// exporting gst_plugin_<name>_get_desc. Libraries are opened with purego, so
// CGO is not required. Descriptors are cached in GST_REGISTRY.
//
// # Environment
//
// Init reads GST_DEBUG, GST_DEBUG_NO_COLOR, GST_PLUGIN_PATH, GST_REGISTRY,
// GST_REGISTRY_UPDATE, GST_TRACERS and GST_PRESET_PATH. See Config.
package gst
