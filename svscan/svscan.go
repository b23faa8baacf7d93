// Package svscan is the core of the svscan application: a single-threaded
// event loop that keeps one supervisor process running per service directory.
// It only runs on Linux.
//
// Mechanism of Operation
//
// Every subdirectory of the scan root is a service. For each one, svscan
// starts the per-service supervisor program with the directory name as its
// argument. If the service has a "log" subdirectory, a second supervisor is
// started for it, and the two are connected by a pipe: the logger reads it on
// its standard input, and the main supervisor inherits the write end as file
// descriptor 3.
//
// The loop looks like this:
//
//    for !stop {
//        reap()   // wait4(WNOHANG) until nothing is left
//        scan()   // readdir, spawn whatever is missing
//        kill()   // signal services whose directory is gone
//        poll()   // self-pipe and control fifo, bounded by the next deadline
//    }
//    exec(finish, reason)
//
// Signals are never handled in place. The Router turns each signal into a
// byte on a self-pipe, which the loop polls along with the control fifo.
//
// The Log Pipe
//
// A log pipe is shared by two processes that die independently. It must stay
// open while either of them is alive, because the survivor is still reading or
// writing it, and it must be closed as soon as both are gone. When the first
// of the pair exits, the pipe is marked as pending close; when the second
// exits, it is closed. If the service directory is seen again while the pipe
// is pending, the pipe stays open and the dead peer is
// restarted onto it.
//
// Termination
//
// svscan never exits. Once told to stop, it signals its services and then
// replaces itself with the finish program, falling back to the crash program,
// and retrying forever if neither can be executed.
package svscan
